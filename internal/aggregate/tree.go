// internal/aggregate/tree.go
package aggregate

import (
	"sort"
	"strings"

	"repo-insights/internal/model"
)

// BuildTree arranges live files into a folder tree. Each file carries its
// change count from changes, zero when absent, and every folder carries the
// sum of its subtree. Folders left without files are pruned.
func BuildTree(live []string, changes map[string]int64) *model.TreeNode {
	root := &model.TreeNode{Type: model.NodeFolder}
	folders := map[string]*model.TreeNode{"": root}

	for _, file := range live {
		parts := strings.Split(file, "/")
		parent := root
		prefix := ""
		for _, name := range parts[:len(parts)-1] {
			if name == "" {
				continue
			}
			if prefix == "" {
				prefix = name
			} else {
				prefix += "/" + name
			}
			folder, ok := folders[prefix]
			if !ok {
				folder = &model.TreeNode{Name: name, Path: prefix, Type: model.NodeFolder}
				folders[prefix] = folder
				parent.Children = append(parent.Children, folder)
			}
			parent = folder
		}
		name := parts[len(parts)-1]
		if name == "" {
			continue
		}
		parent.Children = append(parent.Children, &model.TreeNode{
			Name:    name,
			Path:    file,
			Type:    model.NodeFile,
			Changes: changes[file],
		})
	}

	sumAndPrune(root)
	return root
}

// sumAndPrune fills folder totals bottom-up, drops folders with no files
// underneath and sorts children folders first, then by name. It reports
// whether n should be kept.
func sumAndPrune(n *model.TreeNode) bool {
	if n.Type == model.NodeFile {
		return true
	}
	n.Changes = 0
	kept := n.Children[:0]
	for _, child := range n.Children {
		if sumAndPrune(child) {
			n.Changes += child.Changes
			kept = append(kept, child)
		}
	}
	n.Children = kept
	sort.Slice(n.Children, func(i, j int) bool {
		a, b := n.Children[i], n.Children[j]
		if a.Type != b.Type {
			return a.Type == model.NodeFolder
		}
		return a.Name < b.Name
	})
	return len(n.Children) > 0
}
