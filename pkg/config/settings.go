// Package config implements the dinit-compatible service configuration file parser.
package config

// OperatorType is a bitmask of the assignment operators a setting may
// be written with in a service description file.
type OperatorType uint8

const (
	OpEquals    OperatorType = 1 << iota // name = value
	OpColon                              // name: value  (dependency lists)
	OpPlusEqual                          // name += value (appends)
)

// SettingInfo describes a single recognized setting name.
type SettingInfo struct {
	Name     string
	Operator OperatorType
}

// settingGroups partitions the setting registry by concern purely for
// readability; they're merged into KnownSettings below, so grouping
// has no effect on parsing behavior.
var settingGroups = []map[string]OperatorType{
	{ // identity
		"type":        OpEquals,
		"description": OpEquals,
	},
	{ // dependency lists, always colon-separated
		"depends-on":   OpColon,
		"depends-ms":   OpColon,
		"waits-for":    OpColon,
		"depends-on.d": OpColon,
		"depends-ms.d": OpColon,
		"waits-for.d":  OpColon,
		"before":       OpColon,
		"after":        OpColon,
		"consumer-of":  OpColon,
	},
	{ // how to run it
		"command":      OpEquals,
		"stop-command": OpEquals,
		"working-dir":  OpEquals,
		"env-file":     OpEquals,
		"run-as":       OpEquals,
	},
	{ // console handling
		"options": OpEquals | OpPlusEqual, // runs-on-console, pty-console, ...
	},
	{ // lifecycle and restart policy
		"restart":                OpEquals,
		"smooth-recovery":        OpEquals,
		"stop-timeout":           OpEquals,
		"start-timeout":          OpEquals,
		"restart-delay":          OpEquals,
		"restart-limit-interval": OpEquals,
		"restart-limit-count":    OpEquals,
		"term-signal":            OpEquals,
		"pid-file":               OpEquals,
		"ready-notification":     OpEquals,
		"chain-to":               OpEquals,
	},
	{ // output capture
		"logfile":          OpEquals,
		"log-type":         OpEquals,
		"log-buffer-size":  OpEquals,
	},
	{ // socket activation
		"socket-listen":      OpEquals,
		"socket-permissions": OpEquals,
		"socket-uid":         OpEquals,
		"socket-gid":         OpEquals,
	},
	{ // loading
		"load-options": OpEquals | OpPlusEqual,
	},
	{ // resource limits and scheduling
		"rlimit-nofile": OpEquals,
		"rlimit-core":   OpEquals,
		"rlimit-data":   OpEquals,
		"rlimit-as":     OpEquals,
		"cgroup":        OpEquals,
		"nice":          OpEquals,
		"ioprio":        OpEquals,
		"oom-score-adj": OpEquals,
	},
}

// KnownSettings maps every recognized setting name to the operators it
// accepts, matching dinit's load-service.cc registry.
var KnownSettings = buildKnownSettings()

func buildKnownSettings() map[string]OperatorType {
	merged := make(map[string]OperatorType)
	for _, group := range settingGroups {
		for name, op := range group {
			merged[name] = op
		}
	}
	return merged
}

// IsKnownSetting reports whether name is a recognized setting.
func IsKnownSetting(name string) bool {
	_, ok := KnownSettings[name]
	return ok
}

// ValidOperator reports whether op is an accepted way to assign to setting.
func ValidOperator(setting string, op OperatorType) bool {
	allowed, ok := KnownSettings[setting]
	return ok && allowed&op != 0
}

// OptionFlags maps an "options" setting token to the ServiceFlags
// field it sets. Order here is irrelevant; it's a lookup table.
var OptionFlags = map[string]string{
	"runs-on-console":     "RunsOnConsole",
	"starts-on-console":   "StartsOnConsole",
	"shares-console":      "SharesConsole",
	"pty-console":         "PtyConsole",
	"pass-cs-fd":          "PassCSFD",
	"start-interruptible": "StartInterruptible",
	"skippable":           "Skippable",
	"signal-process-only": "SignalProcessOnly",
	"always-chain":        "AlwaysChain",
	"kill-all-on-stop":    "KillAllOnStop",
}
