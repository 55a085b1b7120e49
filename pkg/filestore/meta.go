package filestore

// Meta is the metadata record of a file entry, persisted as a whole
type Meta struct {
	HashSpec     string `json:"hash_spec,omitempty"`
	EggFragment  string `json:"eggfragment,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	URL          string `json:"url,omitempty"`
	Project      string `json:"project,omitempty"`
	Version      string `json:"version,omitempty"`
}
