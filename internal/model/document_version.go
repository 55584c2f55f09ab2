package model

type VersionRecord struct {
	Version       int    `json:"version" db:"version"`
	Content       string `json:"content" db:"content"`
	LastModified  int64  `json:"last_modified" db:"last_modified"`
	LastEditor    string `json:"last_editor" db:"last_editor"`
	ChangeSummary string `json:"change_summary" db:"change_summary"`
}

func (r *VersionRecord) Meta() VersionMeta {
	return VersionMeta{
		Version:       r.Version,
		LastModified:  r.LastModified,
		LastEditor:    r.LastEditor,
		ChangeSummary: r.ChangeSummary,
		Size:          len(r.Content),
	}
}

type VersionMeta struct {
	Version       int    `json:"version"`
	LastModified  int64  `json:"last_modified"`
	LastEditor    string `json:"last_editor"`
	ChangeSummary string `json:"change_summary"`
	Size          int    `json:"size"`
}
