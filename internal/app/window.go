package app

// CrashReason classifies why a display surface died while the server
// process was still alive.
type CrashReason string

const (
	CrashOOM     CrashReason = "oom"
	CrashCrashed CrashReason = "crashed"
	CrashKilled  CrashReason = "killed"
	CrashUnknown CrashReason = "unknown"
)

// ClassifyCrash maps the reason string reported by the display layer onto
// a known classification.
func ClassifyCrash(reason string) CrashReason {
	switch reason {
	case "oom", "out-of-memory":
		return CrashOOM
	case "crashed", "abnormal-exit":
		return CrashCrashed
	case "killed", "was-killed":
		return CrashKilled
	default:
		return CrashUnknown
	}
}
