package sync

import "caseline-sync/internal/domain"

// DocNode is one folder or file in the assembled document hierarchy.
type DocNode struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	FileURL string     `json:"fileUrl,omitempty"`
	Files   []*DocNode `json:"files,omitempty"`
}

// DocTree is the nested shape shipped in an attached-document sync request.
type DocTree struct {
	Folders   []*DocNode `json:"folders,omitempty"`
	RootFiles []*DocNode `json:"rootFiles,omitempty"`
}

// BuildDocTree assembles flat folder/file rows into a nested tree. Folders
// are materialized by id first; files attach to their parent folder or, when
// the parent id is empty, dangling or self-referential, to the root list.
// Bad parent ids never fail the assembly.
func BuildDocTree(entries []*domain.DocEntry) *DocTree {
	tree := &DocTree{}
	folders := make(map[string]*DocNode)

	for _, e := range entries {
		if !e.IsFolder {
			continue
		}
		node := &DocNode{ID: e.ID, Name: e.Name}
		folders[e.ID] = node
		tree.Folders = append(tree.Folders, node)
	}

	for _, e := range entries {
		if e.IsFolder {
			continue
		}
		node := &DocNode{ID: e.ID, Name: e.Name, FileURL: e.FileURL}

		parent, ok := folders[e.ParentID]
		if !ok || e.ParentID == e.ID {
			tree.RootFiles = append(tree.RootFiles, node)
			continue
		}
		parent.Files = append(parent.Files, node)
	}

	return tree
}
