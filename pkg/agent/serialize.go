// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// FieldKind tags a FieldDescriptor with the wire representation to use,
// replacing the source's "<type=datetime,format=epoch>;attr" string
// metaprogramming with an explicit, typed list per DESIGN NOTES.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindBool
	KindDuration
	KindDatetimeEpoch
	KindStringSlice
)

// FieldDescriptor binds a document key to a typed getter/setter pair on
// *Agent. One shared codec (ToDict/LoadDict) consumes descriptor lists;
// no reflection-based field discovery is used.
type FieldDescriptor struct {
	Key string
	Kind FieldKind
	Get  func(*Agent) interface{}
	Set  func(*Agent, interface{}) error
}

// StateDescriptors lists the fields persisted to the state store after
// every execution (invariant 4).
func StateDescriptors() []FieldDescriptor {
	return []FieldDescriptor{
		{Key: "identifier", Kind: KindString,
			Get: func(a *Agent) interface{} { return a.Identifier },
			Set: func(a *Agent, v interface{}) error { return setString(&a.Identifier, v) }},
		{Key: "name", Kind: KindString,
			Get: func(a *Agent) interface{} { return a.Name },
			Set: func(a *Agent, v interface{}) error { return setString(&a.Name, v) }},
		{Key: "random_skew", Kind: KindDuration,
			Get: func(a *Agent) interface{} { return a.RandomSkew },
			Set: func(a *Agent, v interface{}) error { return setDuration(&a.RandomSkew, v) }},
		{Key: "last_execution", Kind: KindDatetimeEpoch,
			Get: func(a *Agent) interface{} {
				if a.LastExecution == nil {
					return nil
				}
				return *a.LastExecution
			},
			Set: func(a *Agent, v interface{}) error { return setOptionalTime(&a.LastExecution, v) }},
		{Key: "last_execution_status", Kind: KindInt,
			Get: func(a *Agent) interface{} { return int(a.LastExecutionStatus) },
			Set: func(a *Agent, v interface{}) error {
				n, err := toInt(v)
				if err != nil {
					return err
				}
				a.LastExecutionStatus = ExecutionStatus(n)
				return nil
			}},
	}
}

// SettingsDescriptors lists the read-only configuration fields loaded
// from the manifest directory.
func SettingsDescriptors() []FieldDescriptor {
	return []FieldDescriptor{
		{Key: "priority", Kind: KindInt,
			Get: func(a *Agent) interface{} { return int(a.Priority) },
			Set: func(a *Agent, v interface{}) error {
				n, err := toInt(v)
				if err != nil {
					return err
				}
				a.Priority = Priority(n)
				return nil
			}},
		{Key: "triggers", Kind: KindInt,
			Get: func(a *Agent) interface{} { return uint32(a.Triggers) },
			Set: func(a *Agent, v interface{}) error {
				n, err := toInt(v)
				if err != nil {
					return err
				}
				a.Triggers = Trigger(n)
				return nil
			}},
		{Key: "prerequisites", Kind: KindInt,
			Get: func(a *Agent) interface{} { return uint32(a.Prerequisites) },
			Set: func(a *Agent, v interface{}) error {
				n, err := toInt(v)
				if err != nil {
					return err
				}
				a.Prerequisites = StateFlag(n)
				return nil
			}},
		{Key: "execution_limits", Kind: KindInt,
			Get: func(a *Agent) interface{} { return uint8(a.ExecutionLimits) },
			Set: func(a *Agent, v interface{}) error {
				n, err := toInt(v)
				if err != nil {
					return err
				}
				a.ExecutionLimits = ExecutionLimit(n)
				return nil
			}},
		{Key: "run_frequency", Kind: KindDuration,
			Get: func(a *Agent) interface{} { return a.RunFrequency },
			Set: func(a *Agent, v interface{}) error { return setDuration(&a.RunFrequency, v) }},
		{Key: "run_frequency_skew", Kind: KindDuration,
			Get: func(a *Agent) interface{} { return a.RunFrequencySkew },
			Set: func(a *Agent, v interface{}) error { return setDuration(&a.RunFrequencySkew, v) }},
		{Key: "min_run_frequency", Kind: KindDuration,
			Get: func(a *Agent) interface{} { return a.MinRunFrequency },
			Set: func(a *Agent, v interface{}) error { return setDuration(&a.MinRunFrequency, v) }},
		{Key: "max_run_frequency", Kind: KindDuration,
			Get: func(a *Agent) interface{} { return a.MaxRunFrequency },
			Set: func(a *Agent, v interface{}) error { return setDuration(&a.MaxRunFrequency, v) }},
		{Key: "run_probability", Kind: KindInt,
			Get: func(a *Agent) interface{} { return a.RunProbability },
			Set: func(a *Agent, v interface{}) error {
				n, err := toInt(v)
				if err != nil {
					return err
				}
				a.RunProbability = n
				return nil
			}},
		{Key: "ad_site_includes", Kind: KindStringSlice,
			Get: func(a *Agent) interface{} { return a.SiteIncludes },
			Set: func(a *Agent, v interface{}) error { return setStringSlice(&a.SiteIncludes, v) }},
		{Key: "ad_site_excludes", Kind: KindStringSlice,
			Get: func(a *Agent) interface{} { return a.SiteExcludes },
			Set: func(a *Agent, v interface{}) error { return setStringSlice(&a.SiteExcludes, v) }},
		{Key: "use_lock", Kind: KindBool,
			Get: func(a *Agent) interface{} { return a.UseLock },
			Set: func(a *Agent, v interface{}) error { return setBool(&a.UseLock, v) }},
		{Key: "needs_state_dir", Kind: KindBool,
			Get: func(a *Agent) interface{} { return a.NeedsStateDir },
			Set: func(a *Agent, v interface{}) error { return setBool(&a.NeedsStateDir, v) }},
		{Key: "version", Kind: KindString,
			Get: func(a *Agent) interface{} { return a.Version },
			Set: func(a *Agent, v interface{}) error { return setString(&a.Version, v) }},
	}
}

// ToDict renders a into a document using the given descriptors.
func ToDict(a *Agent, descriptors []FieldDescriptor) map[string]interface{} {
	doc := make(map[string]interface{}, len(descriptors))
	for _, d := range descriptors {
		v := d.Get(a)
		switch d.Kind {
		case KindDuration:
			doc[d.Key] = int64(v.(time.Duration))
		case KindDatetimeEpoch:
			if v == nil {
				doc[d.Key] = nil
			} else {
				doc[d.Key] = v.(time.Time).Unix()
			}
		default:
			doc[d.Key] = v
		}
	}
	return doc
}

// LoadDict applies doc onto a using the given descriptors. Unknown keys
// in doc are ignored; missing keys leave the field untouched.
func LoadDict(a *Agent, descriptors []FieldDescriptor, doc map[string]interface{}) error {
	for _, d := range descriptors {
		raw, ok := doc[d.Key]
		if !ok {
			continue
		}
		if err := d.Set(a, raw); err != nil {
			return fmt.Errorf("field %q: %w", d.Key, err)
		}
	}
	return nil
}

// ToJSON marshals ToDict(a, descriptors) to JSON bytes.
func ToJSON(a *Agent, descriptors []FieldDescriptor) ([]byte, error) {
	return json.Marshal(ToDict(a, descriptors))
}

// LoadJSON unmarshals data and applies it onto a via LoadDict.
func LoadJSON(a *Agent, descriptors []FieldDescriptor, data []byte) error {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return LoadDict(a, descriptors, doc)
}

func setString(dst *string, v interface{}) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", v)
	}
	*dst = s
	return nil
}

func setBool(dst *bool, v interface{}) error {
	b, ok := v.(bool)
	if !ok {
		return fmt.Errorf("expected bool, got %T", v)
	}
	*dst = b
	return nil
}

func setStringSlice(dst *[]string, v interface{}) error {
	switch vv := v.(type) {
	case []string:
		*dst = append([]string(nil), vv...)
		return nil
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			s, ok := e.(string)
			if !ok {
				return fmt.Errorf("expected string element, got %T", e)
			}
			out = append(out, s)
		}
		*dst = out
		return nil
	default:
		return fmt.Errorf("expected string slice, got %T", v)
	}
}

func setDuration(dst *time.Duration, v interface{}) error {
	n, err := toInt64(v)
	if err != nil {
		return err
	}
	*dst = time.Duration(n)
	return nil
}

func setOptionalTime(dst **time.Time, v interface{}) error {
	if v == nil {
		*dst = nil
		return nil
	}
	n, err := toInt64(v)
	if err != nil {
		return err
	}
	t := time.Unix(n, 0).UTC()
	*dst = &t
	return nil
}

func toInt(v interface{}) (int, error) {
	n, err := toInt64(v)
	return int(n), err
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

// CompileSiteRegexes fills SiteIncludeRegex/SiteExcludeRegex from
// elements of SiteIncludes/SiteExcludes that carry glob wildcards (a
// "*" or "?" anywhere in the element), translating them to anchored
// regular expressions. Plain elements are matched by exact string
// comparison in the Qualifier and never touch the regex path.
func (a *Agent) CompileSiteRegexes() error {
	inc, err := compileGlobSet(a.SiteIncludes)
	if err != nil {
		return fmt.Errorf("ad_site_includes: %w", err)
	}
	a.SiteIncludeRegex = inc
	exc, err := compileGlobSet(a.SiteExcludes)
	if err != nil {
		return fmt.Errorf("ad_site_excludes: %w", err)
	}
	a.SiteExcludeRegex = exc
	return nil
}

func compileGlobSet(patterns []string) (*regexp.Regexp, error) {
	var parts []string
	for _, p := range patterns {
		if !containsWildcard(p) {
			continue
		}
		parts = append(parts, "^"+globToRegex(p)+"$")
	}
	if len(parts) == 0 {
		return nil, nil
	}
	combined := ""
	for i, p := range parts {
		if i > 0 {
			combined += "|"
		}
		combined += p
	}
	return regexp.Compile(combined)
}

func containsWildcard(s string) bool {
	for _, r := range s {
		if r == '*' || r == '?' {
			return true
		}
	}
	return false
}

func globToRegex(glob string) string {
	out := ""
	for _, r := range glob {
		switch r {
		case '*':
			out += ".*"
		case '?':
			out += "."
		case '.', '+', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			out += "\\" + string(r)
		default:
			out += string(r)
		}
	}
	return out
}
