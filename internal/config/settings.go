package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// SettingSource represents where an effective value comes from.
type SettingSource string

const (
	SourceEnv     SettingSource = "env"
	SourceFile    SettingSource = "file"
	SourceDefault SettingSource = "default"
)

// Setting is one effective configuration value.
type Setting struct {
	Key    string        `json:"key"`
	Value  string        `json:"value"`
	Source SettingSource `json:"source"`
	EnvVar string        `json:"env_var"`
}

// EnvVar returns the environment variable that overrides key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Settings lists every effective value sorted by key, with its source.
func (c *Config) Settings() []Setting {
	if c.v == nil {
		return nil
	}
	keys := c.v.AllKeys()
	sort.Strings(keys)

	out := make([]Setting, 0, len(keys))
	for _, k := range keys {
		s := Setting{
			Key:    k,
			Value:  fmt.Sprint(c.v.Get(k)),
			EnvVar: EnvVar(k),
			Source: SourceDefault,
		}
		switch {
		case os.Getenv(s.EnvVar) != "":
			s.Source = SourceEnv
		case c.v.InConfig(k):
			s.Source = SourceFile
		}
		out = append(out, s)
	}
	return out
}
