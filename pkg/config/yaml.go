// Pantry uses flags and a single config file for configuration.
// A config file is stored in YAML format and contains the values that can be set via flags.

package config

import (
	"flag"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

// skippedConfigFlags is the list of command line flags that intentionally have no config file entry.
var skippedConfigFlags = []string{"print_version", "config_file"}

const flagTag = "flag"

var durationType = reflect.TypeOf(time.Duration(0))

// fieldValueToString converts a config leaf value to its string representation suitable for flag setting.
func fieldValueToString(v reflect.Value) (string, error) {
	if v.Type() == durationType {
		return time.Duration(v.Int()).String(), nil
	}
	switch v.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64), nil
	case reflect.String:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported kind: %v", v.Kind())
	}
}

// collectFlags collects all filled leaf fields of the given config struct into `flags`.
// Each leaf field has a `flag` tag naming the command line flag it sets.
func collectFlags(flags map[ /*flagName*/ string] /*flagValue*/ string, v reflect.Value) error {
	v = reflect.Indirect(v)
	if !v.IsValid() { // Nil section.
		return nil
	}
	t := v.Type()
	for fieldIdx := 0; fieldIdx < t.NumField(); fieldIdx++ {
		field, fieldValue := t.Field(fieldIdx), v.Field(fieldIdx)
		flagName, hasFlag := field.Tag.Lookup(flagTag)
		if fieldValue.Kind() == reflect.Pointer && fieldValue.IsNil() {
			continue // Not set in the config file.
		}
		if !hasFlag {
			// Recurse into nested sections that do not carry a flag name themselves.
			if reflect.Indirect(fieldValue).Kind() == reflect.Struct {
				if err := collectFlags(flags, fieldValue); err != nil {
					return err
				}
			}
			continue
		}
		stringValue, err := fieldValueToString(reflect.Indirect(fieldValue))
		if err != nil {
			return fmt.Errorf("failed to convert %s.%s: %w", t.Name(), field.Name, err)
		}
		if _, alreadyExists := flags[flagName]; alreadyExists {
			return fmt.Errorf("flag '%s' has multiple entries in config: '%s.%s'", flagName, t.Name(), field.Name)
		}
		flags[flagName] = stringValue
	}
	return nil
}

// explicitlySetFlags returns the flags that have been set so far, i.e. the ones given on the command line
// when called right after flag.Parse().
func explicitlySetFlags() map[ /*flagName*/ string]struct{} {
	explicitFlags := make(map[string]struct{})
	flag.Visit(func(f *flag.Flag) { explicitFlags[f.Name] = struct{}{} })
	return explicitFlags
}

// setConfigFlags sets all the filled fields of `conf` to the global flag variables, except `explicitFlags`.
func setConfigFlags(conf *Config, explicitFlags map[ /*flagName*/ string]struct{}) ([] /*flagName*/ string, error) {
	configFlags := make(map[ /*flagName*/ string] /*flagValue*/ string)
	if err := collectFlags(configFlags, reflect.ValueOf(conf)); err != nil {
		return nil, fmt.Errorf("failed to collect flags: %w", err)
	}

	applied := make([]string, 0, len(configFlags))
	for flagName, flagValue := range configFlags {
		if _, isExplicit := explicitFlags[flagName]; isExplicit {
			continue // Command line wins over the config file.
		}
		if err := flag.Set(flagName, flagValue); err != nil {
			return nil, fmt.Errorf("failed to set flag %s: %w", flagName, err)
		}
		applied = append(applied, flagName)
	}
	slices.Sort(applied)
	return applied, nil
}

// getDefinedFlags returns the set of flags named inside the given config type.
func getDefinedFlags(t reflect.Type) (map[ /*flagName*/ string]struct{}, error) {
	flagSet := make(map[ /*flagName*/ string]struct{})
	var walkFields func(t reflect.Type) error
	walkFields = func(t reflect.Type) error {
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		for fieldIdx := 0; fieldIdx < t.NumField(); fieldIdx++ {
			field := t.Field(fieldIdx)
			if flagName, hasFlag := field.Tag.Lookup(flagTag); hasFlag && flagName != "" {
				if _, exists := flagSet[flagName]; exists {
					return fmt.Errorf("duplicate flag name '%s' in config: %s.%s", flagName, t.Name(), field.Name)
				}
				flagSet[flagName] = struct{}{}
				continue
			}
			fieldType := field.Type
			if fieldType.Kind() == reflect.Pointer {
				fieldType = fieldType.Elem()
			}
			if fieldType.Kind() == reflect.Struct {
				if err := walkFields(fieldType); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walkFields(t); err != nil {
		return nil, err
	}
	return flagSet, nil
}

// CollectUnregisteredFlags collects all flags that haven't been registered in the config schema.
// An error exists in the results corresponding to each unregistered flag.
func CollectUnregisteredFlags() []error {
	definedFlags, err := getDefinedFlags(reflect.TypeOf(Config{}))
	if err != nil {
		return []error{err}
	}
	errs := make([]error, 0)
	flag.VisitAll(func(f *flag.Flag) {
		if strings.HasPrefix(f.Name, "test.") { // Skip test flags.
			return
		}
		if slices.Contains(skippedConfigFlags, f.Name) {
			return
		}
		if _, flagHasConfigEntry := definedFlags[f.Name]; !flagHasConfigEntry {
			errs = append(errs, fmt.Errorf("flag '%s' has not been defined in config schema", f.Name))
		}
	})
	return errs
}
