package config

// Default configuration values.
const (
	DefaultSnapshotRoot = "snapshots"
	DefaultRulesFile    = "routing.yaml"
	DefaultManifestFile = "manifest.db"
	DefaultWorkers      = 4
	DefaultOutput       = "text"
)

// defaults is the lowest-precedence configuration layer.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"snapshot_root": DefaultSnapshotRoot,
		"rules_path":    DefaultRulesFile,
		"manifest_path": DefaultManifestFile,
		"workers":       DefaultWorkers,
		"verify_hashes": false,
		"count_records": false,
		"verbose":       false,
		"output":        DefaultOutput,
	}
}
