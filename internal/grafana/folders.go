package grafana

import "grape/internal/check"

// FolderIDMap maps a folder id on the source server to the id the target
// server assigned to the folder with the same title. It only lives for one
// dashboard upload pass.
type FolderIDMap map[int64]int64

// BuildFolderIDMap matches source folders to target folders by title.
// Source folders without a target of the same title are left out. When the
// target has several folders with one title the first is used.
func BuildFolderIDMap(source, target []Folder) FolderIDMap {
	byTitle := make(map[string]int64, len(target))
	for _, f := range target {
		if _, dup := byTitle[f.Title]; dup {
			continue
		}
		byTitle[f.Title] = f.ID
	}
	out := make(FolderIDMap, len(source))
	for _, f := range source {
		if id, ok := byTitle[f.Title]; ok {
			check.Assertf(f.ID != RootFolderID, "root folder %q in folder map", f.Title)
			out[f.ID] = id
		}
	}
	return out
}

// Resolve returns the target id for a source folder id, or the root folder
// when it is unmapped.
func (m FolderIDMap) Resolve(old int64) int64 {
	if old == RootFolderID {
		return RootFolderID
	}
	if id, ok := m[old]; ok {
		return id
	}
	return RootFolderID
}
