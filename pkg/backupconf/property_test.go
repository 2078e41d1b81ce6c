package backupconf

import (
	"bytes"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genValue produces arbitrary single-line values.
func genValue() gopter.Gen {
	return gen.AnyString().Map(func(s string) string {
		return strings.NewReplacer("\n", "", "\r", "").Replace(s)
	})
}

func genTarget() gopter.Gen {
	return gopter.CombineGens(
		genValue(),
		gen.AlphaString(),
		gen.NumString(),
		genValue(),
		genValue(),
		genValue(),
	).Map(func(v []interface{}) DatabaseTarget {
		return DatabaseTarget{
			Name:     v[0].(string),
			Host:     v[1].(string),
			Port:     v[2].(string),
			User:     v[3].(string),
			Password: v[4].(string),
			Database: v[5].(string),
		}
	})
}

// genConfig produces valid configurations: numeric, unique, ascending ids and
// at least one target.
func genConfig() gopter.Gen {
	return gopter.CombineGens(
		genValue(),
		gen.IntRange(0, 3650),
		gen.Bool(),
		genValue(),
		genValue(),
		genValue(),
		genValue(),
		genValue(),
		gen.Bool(),
		gen.AlphaString(),
		genValue(),
		gen.SliceOf(genTarget()),
		gen.IntRange(1, 50),
		gen.IntRange(1, 9),
	).Map(func(v []interface{}) *BackupConfig {
		targets := v[11].([]DatabaseTarget)
		if len(targets) == 0 {
			targets = []DatabaseTarget{DefaultDatabase()}
		}
		base, step := v[12].(int), v[13].(int)
		for i := range targets {
			targets[i].ID = strconv.Itoa(base + i*step)
		}
		return &BackupConfig{
			BackupDir:     v[0].(string),
			RetentionDays: v[1].(int),
			SMB: SMBSettings{
				Enabled:  v[2].(bool),
				Share:    v[3].(string),
				Mount:    v[4].(string),
				User:     v[5].(string),
				Password: v[6].(string),
				Domain:   v[7].(string),
			},
			S3: S3Settings{
				Enabled:   v[8].(bool),
				Bucket:    v[9].(string),
				SecretKey: v[10].(string),
			},
			Databases: targets,
		}
	})
}

// TestProperty_RoundTrip tests that load(save(x)) reproduces x
func TestProperty_RoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("encode then decode is the identity", prop.ForAll(
		func(cfg *BackupConfig) bool {
			if err := cfg.Validate(); err != nil {
				return false
			}
			var buf bytes.Buffer
			if err := encode(&buf, cfg); err != nil {
				return false
			}
			pairs, err := readPairs(strings.NewReader(buf.String()))
			if err != nil {
				return false
			}
			got, _ := decode(pairs)
			return reflect.DeepEqual(cfg, got)
		},
		genConfig(),
	))

	properties.TestingRun(t)
}

// TestProperty_NextID tests minimality and non-membership of allocated ids
func TestProperty_NextID(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("next id is unused", prop.ForAll(
		func(existing []int) bool {
			next := NextID(existing)
			for _, id := range existing {
				if id == next {
					return false
				}
			}
			return next > 0
		},
		gen.SliceOf(gen.IntRange(-5, 40)),
	))

	properties.Property("next id is the smallest unused positive integer", prop.ForAll(
		func(existing []int) bool {
			next := NextID(existing)
			used := make(map[int]bool, len(existing))
			for _, id := range existing {
				used[id] = true
			}
			for id := 1; id < next; id++ {
				if !used[id] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 40)),
	))

	properties.TestingRun(t)
}
