package backupconf

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Config file keys
const (
	KeyBackupDir     = "BACKUP_DIR"
	KeyRetention     = "BACKUP_RETENTION"
	KeySMBEnabled    = "SMB_ENABLED"
	KeySMBShare      = "SMB_SHARE"
	KeySMBMount      = "SMB_MOUNT"
	KeySMBUser       = "SMB_USER"
	KeySMBPassword   = "SMB_PASSWORD"
	KeySMBDomain     = "SMB_DOMAIN"
	KeyS3Enabled     = "S3_ENABLED"
	KeyS3Bucket      = "S3_BUCKET"
	KeyS3Region      = "S3_REGION"
	KeyS3Endpoint    = "S3_ENDPOINT"
	KeyS3Prefix      = "S3_PREFIX"
	KeyS3AccessKey   = "S3_ACCESS_KEY"
	KeyS3SecretKey   = "S3_SECRET_KEY"
	databaseKeyRegex = `^DB_([0-9]+)_(NAME|HOST|PORT|USER|PASSWORD|DATABASE)$`
)

var databaseKeyPattern = regexp.MustCompile(databaseKeyRegex)

// legacyFields maps the pre-multi-database keys onto target fields.
var legacyFields = map[string]string{
	"MYSQL_HOST":     "HOST",
	"MYSQL_PORT":     "PORT",
	"MYSQL_USER":     "USER",
	"MYSQL_PASSWORD": "PASSWORD",
	"MYSQL_DATABASE": "DATABASE",
}

var generalKeys = map[string]bool{
	KeyBackupDir: true, KeyRetention: true,
	KeySMBEnabled: true, KeySMBShare: true, KeySMBMount: true,
	KeySMBUser: true, KeySMBPassword: true, KeySMBDomain: true,
	KeyS3Enabled: true, KeyS3Bucket: true, KeyS3Region: true, KeyS3Endpoint: true,
	KeyS3Prefix: true, KeyS3AccessKey: true, KeyS3SecretKey: true,
}

// readPairs splits the file into key/value pairs. Blank lines, comments and
// lines without '=' are skipped. Later duplicates win.
func readPairs(r io.Reader) (map[string]string, error) {
	pairs := make(map[string]string)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		pairs[key] = unquote(strings.TrimSpace(value))
	}
	return pairs, scanner.Err()
}

// unquote strips the surrounding quotes from a value. Inside double quotes a
// backslash escapes only the characters the shell treats specially there, so
// sequences such as \n or \t stay literal, which is how the backup script
// sees them when it sources the file.
func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		inner := v[1 : len(v)-1]
		if !strings.Contains(inner, `\`) {
			return inner
		}
		var b strings.Builder
		b.Grow(len(inner))
		for i := 0; i < len(inner); i++ {
			if inner[i] == '\\' && i+1 < len(inner) && strings.IndexByte(shellEscaped, inner[i+1]) >= 0 {
				i++
			}
			b.WriteByte(inner[i])
		}
		return b.String()
	}
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return v[1 : len(v)-1]
	}
	return v
}

// shellEscaped lists the characters a backslash escapes inside double quotes.
const shellEscaped = "\\\"$`"

// lineBreaks flattens line breaks, which the one-pair-per-line format cannot
// carry.
var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// quoteValue writes v as a double-quoted shell word.
func quoteValue(v string) string {
	v = lineBreaks.Replace(v)
	var b strings.Builder
	b.Grow(len(v) + 2)
	b.WriteByte('"')
	for i := 0; i < len(v); i++ {
		if strings.IndexByte(shellEscaped, v[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(v[i])
	}
	b.WriteByte('"')
	return b.String()
}

// decode builds a BackupConfig from the parsed pairs.
func decode(pairs map[string]string) (*BackupConfig, []string) {
	cfg := Default()
	cfg.Databases = nil
	var warnings []string

	get := func(key, fallback string) string {
		if v, ok := pairs[key]; ok {
			return v
		}
		return fallback
	}

	cfg.BackupDir = get(KeyBackupDir, DefaultBackupDir)
	if raw, ok := pairs[KeyRetention]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			warnings = append(warnings, fmt.Sprintf("invalid %s %q, using %d", KeyRetention, raw, DefaultRetentionDays))
			n = DefaultRetentionDays
		}
		cfg.RetentionDays = n
	}

	cfg.SMB.Enabled = parseBool(get(KeySMBEnabled, "false"))
	cfg.SMB.Share = get(KeySMBShare, "")
	cfg.SMB.Mount = get(KeySMBMount, DefaultSMBMount)
	cfg.SMB.User = get(KeySMBUser, "")
	cfg.SMB.Password = get(KeySMBPassword, "")
	cfg.SMB.Domain = get(KeySMBDomain, DefaultSMBDomain)

	cfg.S3.Enabled = parseBool(get(KeyS3Enabled, "false"))
	cfg.S3.Bucket = get(KeyS3Bucket, "")
	cfg.S3.Region = get(KeyS3Region, DefaultS3Region)
	cfg.S3.Endpoint = get(KeyS3Endpoint, "")
	cfg.S3.Prefix = get(KeyS3Prefix, "")
	cfg.S3.AccessKey = get(KeyS3AccessKey, "")
	cfg.S3.SecretKey = get(KeyS3SecretKey, "")

	byID := make(map[string]*DatabaseTarget)
	hasLegacy := false
	for key, value := range pairs {
		if generalKeys[key] {
			continue
		}
		if m := databaseKeyPattern.FindStringSubmatch(key); m != nil {
			id := canonicalID(m[1])
			target, ok := byID[id]
			if !ok {
				target = &DatabaseTarget{ID: id}
				byID[id] = target
			}
			setField(target, m[2], value)
			continue
		}
		if _, ok := legacyFields[key]; ok {
			hasLegacy = true
			continue
		}
		if cfg.Extra == nil {
			cfg.Extra = make(map[string]string)
		}
		cfg.Extra[key] = value
	}

	for _, target := range byID {
		cfg.Databases = append(cfg.Databases, *target)
	}

	// Migrate the single-database layout only when no DB_* keys exist.
	if len(cfg.Databases) == 0 && hasLegacy {
		target := DefaultDatabase()
		for key, field := range legacyFields {
			if v, ok := pairs[key]; ok {
				setField(&target, field, v)
			}
		}
		cfg.Databases = []DatabaseTarget{target}
	}

	cfg.normalize()
	return cfg, warnings
}

// encode writes cfg in the fixed section order.
func encode(w io.Writer, cfg *BackupConfig) error {
	bw := bufio.NewWriter(w)
	line := func(key, value string) {
		fmt.Fprintf(bw, "%s=%s\n", key, quoteValue(value))
	}

	fmt.Fprintln(bw, "# MySQL backup configuration")
	fmt.Fprintln(bw, "# Generated by GoSQLConsole; manual edits are preserved on load")
	fmt.Fprintln(bw)

	fmt.Fprintln(bw, "# Backup settings")
	line(KeyBackupDir, cfg.BackupDir)
	line(KeyRetention, strconv.Itoa(cfg.RetentionDays))
	fmt.Fprintln(bw)

	fmt.Fprintln(bw, "# SMB share settings")
	line(KeySMBEnabled, strconv.FormatBool(cfg.SMB.Enabled))
	line(KeySMBShare, cfg.SMB.Share)
	line(KeySMBMount, cfg.SMB.Mount)
	line(KeySMBUser, cfg.SMB.User)
	line(KeySMBPassword, cfg.SMB.Password)
	line(KeySMBDomain, cfg.SMB.Domain)
	fmt.Fprintln(bw)

	fmt.Fprintln(bw, "# S3 offload settings")
	line(KeyS3Enabled, strconv.FormatBool(cfg.S3.Enabled))
	line(KeyS3Bucket, cfg.S3.Bucket)
	line(KeyS3Region, cfg.S3.Region)
	line(KeyS3Endpoint, cfg.S3.Endpoint)
	line(KeyS3Prefix, cfg.S3.Prefix)
	line(KeyS3AccessKey, cfg.S3.AccessKey)
	line(KeyS3SecretKey, cfg.S3.SecretKey)

	dbs := append([]DatabaseTarget(nil), cfg.Databases...)
	SortDatabases(dbs)
	for _, db := range dbs {
		prefix := "DB_" + db.ID + "_"
		fmt.Fprintln(bw)
		fmt.Fprintf(bw, "# Database %s\n", db.ID)
		line(prefix+"NAME", db.Name)
		line(prefix+"HOST", db.Host)
		line(prefix+"PORT", db.Port)
		line(prefix+"USER", db.User)
		line(prefix+"PASSWORD", db.Password)
		line(prefix+"DATABASE", db.Database)
	}

	if extra := writableExtra(cfg.Extra); len(extra) > 0 {
		fmt.Fprintln(bw)
		fmt.Fprintln(bw, "# Additional settings")
		for _, key := range extra {
			line(key, cfg.Extra[key])
		}
	}

	return bw.Flush()
}

// writableExtra returns the sorted extra keys that can be written without
// shadowing a known key or breaking the line format.
func writableExtra(extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for key := range extra {
		if key == "" || generalKeys[key] || databaseKeyPattern.MatchString(key) {
			continue
		}
		if _, legacy := legacyFields[key]; legacy {
			continue
		}
		if strings.ContainsAny(key, "=#\n\r") || strings.TrimSpace(key) != key {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func setField(t *DatabaseTarget, field, value string) {
	switch field {
	case "NAME":
		t.Name = value
	case "HOST":
		t.Host = value
	case "PORT":
		t.Port = value
	case "USER":
		t.User = value
	case "PASSWORD":
		t.Password = value
	case "DATABASE":
		t.Database = value
	}
}

// canonicalID strips leading zeros from an all-digit id.
func canonicalID(raw string) string {
	if raw == "" || strings.Trim(raw, "0123456789") != "" {
		return raw
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return raw
	}
	return strconv.Itoa(n)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "enabled":
		return true
	}
	return false
}
