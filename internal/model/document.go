package model

// Document is the single live head. Content, Version, LastModified, LastEditor and
// ChangeSummary are always written together.
type Document struct {
	Content       string `json:"content" db:"content"`
	Version       int    `json:"version" db:"version"`
	LastModified  int64  `json:"last_modified" db:"last_modified"`
	LastEditor    string `json:"last_editor" db:"last_editor"`
	ChangeSummary string `json:"change_summary" db:"change_summary"`
}

// Record returns the version record describing the head as it is now.
func (d *Document) Record() *VersionRecord {
	return &VersionRecord{
		Version:       d.Version,
		Content:       d.Content,
		LastModified:  d.LastModified,
		LastEditor:    d.LastEditor,
		ChangeSummary: d.ChangeSummary,
	}
}
