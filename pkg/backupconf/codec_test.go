package backupconf

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeString(t *testing.T, content string) *BackupConfig {
	t.Helper()
	pairs, err := readPairs(strings.NewReader(content))
	require.NoError(t, err)
	cfg, _ := decode(pairs)
	return cfg
}

// TestDecode_LegacyMigration tests that bare MYSQL_* keys become target 1
func TestDecode_LegacyMigration(t *testing.T) {
	cfg := decodeString(t, `MYSQL_HOST="db1"`)

	require.Len(t, cfg.Databases, 1)
	assert.Equal(t, "1", cfg.Databases[0].ID)
	assert.Equal(t, "db1", cfg.Databases[0].Host)
	assert.Equal(t, "3306", cfg.Databases[0].Port)
	assert.Equal(t, "root", cfg.Databases[0].User)
}

// TestDecode_LegacyIgnoredWithDatabaseKeys tests that DB_* keys take precedence
func TestDecode_LegacyIgnoredWithDatabaseKeys(t *testing.T) {
	cfg := decodeString(t, `
MYSQL_HOST="legacy"
DB_3_HOST="db3"
DB_3_NAME="sales"
`)

	require.Len(t, cfg.Databases, 1)
	assert.Equal(t, "3", cfg.Databases[0].ID)
	assert.Equal(t, "db3", cfg.Databases[0].Host)
	assert.Empty(t, cfg.Extra, "legacy keys must not be carried as extras")
}

// TestDecode_Parsing tests comment, malformed line and quoting handling
func TestDecode_Parsing(t *testing.T) {
	cfg := decodeString(t, `
# a comment line
this line has no separator
  BACKUP_DIR = "/data/backups"
BACKUP_RETENTION='14'
SMB_ENABLED=true
SMB_SHARE="//nas/backup"
DB_10_NAME="ten"
DB_2_NAME="two"
DB_02_HOST="merged"
DB_2_PASSWORD="p=a\"ss"
DB_2_DATABASE=C:\dumps
CUSTOM_FLAG="keep me"
`)

	assert.Equal(t, "/data/backups", cfg.BackupDir)
	assert.Equal(t, 14, cfg.RetentionDays)
	assert.True(t, cfg.SMB.Enabled)
	assert.Equal(t, "//nas/backup", cfg.SMB.Share)
	assert.Equal(t, DefaultSMBMount, cfg.SMB.Mount)
	assert.Equal(t, DefaultSMBDomain, cfg.SMB.Domain)

	require.Len(t, cfg.Databases, 2)
	assert.Equal(t, "2", cfg.Databases[0].ID, "ids sort numerically")
	assert.Equal(t, "10", cfg.Databases[1].ID)
	assert.Equal(t, "two", cfg.Databases[0].Name)
	assert.Equal(t, "merged", cfg.Databases[0].Host)
	assert.Equal(t, `p=a"ss`, cfg.Databases[0].Password)
	assert.Equal(t, `C:\dumps`, cfg.Databases[0].Database)

	assert.Equal(t, map[string]string{"CUSTOM_FLAG": "keep me"}, cfg.Extra)
}

// TestDecode_InvalidRetention tests fallback for an unusable retention value
func TestDecode_InvalidRetention(t *testing.T) {
	pairs, err := readPairs(strings.NewReader(`BACKUP_RETENTION="weekly"`))
	require.NoError(t, err)
	cfg, warnings := decode(pairs)

	assert.Equal(t, DefaultRetentionDays, cfg.RetentionDays)
	assert.Len(t, warnings, 1)
}

// TestDecode_Empty tests that an empty file yields the default target
func TestDecode_Empty(t *testing.T) {
	cfg := decodeString(t, "")
	assert.Equal(t, Default(), cfg)
}

// TestEncode_SectionOrder tests the fixed layout of the written file
func TestEncode_SectionOrder(t *testing.T) {
	cfg := Default()
	cfg.Databases = []DatabaseTarget{
		{ID: "10", Name: "ten", Host: "h10"},
		{ID: "2", Name: "two", Host: "h2"},
	}
	cfg.Extra = map[string]string{"ZZZ": "1", "BACKUP_DIR": "shadow", "DB_5_NAME": "shadow"}

	var buf bytes.Buffer
	require.NoError(t, encode(&buf, cfg))
	out := buf.String()

	order := []string{
		`BACKUP_DIR="/app/backups"`,
		`BACKUP_RETENTION="7"`,
		`SMB_ENABLED="false"`,
		`SMB_DOMAIN="WORKGROUP"`,
		`S3_ENABLED="false"`,
		`DB_2_NAME="two"`,
		`DB_10_NAME="ten"`,
		`ZZZ="1"`,
	}
	last := -1
	for _, want := range order {
		idx := strings.Index(out, want)
		require.GreaterOrEqual(t, idx, 0, "missing %s", want)
		assert.Greater(t, idx, last, "%s out of order", want)
		last = idx
	}
	assert.Equal(t, 1, strings.Count(out, "BACKUP_DIR="), "extras must not shadow known keys")
	assert.NotContains(t, out, "DB_5_NAME")
}

// TestRoundTrip_Examples tests load(save(x)) for values that need escaping
func TestRoundTrip_Examples(t *testing.T) {
	tests := []struct {
		name string
		db   DatabaseTarget
	}{
		{name: "plain", db: DatabaseTarget{ID: "1", Name: "main", Host: "db", Port: "3306", User: "root"}},
		{name: "quotes", db: DatabaseTarget{ID: "4", Password: `a"b'c`}},
		{name: "backslashes", db: DatabaseTarget{ID: "7", Password: `\\server\share\`}},
		{name: "dollar", db: DatabaseTarget{ID: "8", Password: "$HOME${X}"}},
		{name: "tab", db: DatabaseTarget{ID: "9", Name: "multi\tline"}},
		{name: "backslash letters", db: DatabaseTarget{ID: "10", Password: `pa\nss\t1\q`}},
		{name: "backticks", db: DatabaseTarget{ID: "11", Password: "`id`\\$"}},
		{name: "hash and equals", db: DatabaseTarget{ID: "12", Password: "#x=y#"}},
		{name: "surrounding space", db: DatabaseTarget{ID: "13", Name: "  padded  "}},
		{name: "unicode", db: DatabaseTarget{ID: "14", Name: "Datenbank äöü ✓"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Databases = []DatabaseTarget{tt.db}

			var buf bytes.Buffer
			require.NoError(t, encode(&buf, cfg))
			got := decodeString(t, buf.String())

			assert.Equal(t, cfg, got)
		})
	}
}

// TestUnquote tests that only shell double-quote escapes are processed
func TestUnquote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"plain"`, "plain"},
		{`'single'`, "single"},
		{`bare`, "bare"},
		{`"a\"b"`, `a"b`},
		{`"C:\dumps"`, `C:\dumps`},
		{`"pa\nss\t1"`, `pa\nss\t1`},
		{`"x\q"`, `x\q`},
		{`"a\\b"`, `a\b`},
		{"\"\\$HOME \\`id\\`\"", "$HOME `id`"},
		{`"trailing\"`, `trailing\`},
		{`'no \"escapes\"'`, `no \"escapes\"`},
		{`""`, ""},
		{`"`, `"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, unquote(tt.in), tt.in)
	}
}

// TestEncode_ShellQuoting tests that written values read back unchanged when
// the file is sourced by a shell
func TestEncode_ShellQuoting(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain`, `"plain"`},
		{`pa\nss`, `"pa\\nss"`},
		{`a"b`, `"a\"b"`},
		{"$HOME", `"\$HOME"`},
		{"`id`", "\"\\`id\\`\""},
		{"one\ntwo\r\nthree", `"one two three"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, quoteValue(tt.in), tt.in)
	}
}

// TestDecode_HandWrittenBackslashes tests values written without escaping
// backslashes, as older writers and hand edits produce them
func TestDecode_HandWrittenBackslashes(t *testing.T) {
	cfg := decodeString(t, `DB_1_PASSWORD="pa\nss\t1"
DB_1_DATABASE="x\q"
`)
	require.Len(t, cfg.Databases, 1)
	assert.Equal(t, `pa\nss\t1`, cfg.Databases[0].Password)
	assert.Equal(t, `x\q`, cfg.Databases[0].Database)

	var buf bytes.Buffer
	require.NoError(t, encode(&buf, cfg))
	again := decodeString(t, buf.String())
	assert.Equal(t, cfg, again)
}
