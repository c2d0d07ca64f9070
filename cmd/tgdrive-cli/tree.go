package main

import (
	"fmt"

	"github.com/disiqueira/gotree/v3"

	"github.com/caamer20/Telegram-Drive/internal/bandwidth"
	"github.com/caamer20/Telegram-Drive/internal/models"
)

// renderTree draws Saved Messages and every folder with its files.
func renderTree(home []models.File, folders []models.Folder, listing map[int64][]models.File) string {
	root := gotree.New("Telegram Drive")

	addFiles(root.Add("Saved Messages"), home)
	for _, f := range folders {
		addFiles(root.Add(fmt.Sprintf("%s (%d)", f.Name, f.ID)), listing[f.ID])
	}
	return root.Print()
}

func addFiles(node gotree.Tree, files []models.File) {
	for _, f := range files {
		node.Add(fmt.Sprintf("%s  [%d, %s]", f.Name, f.ID, bandwidth.FormatBytes(f.Size)))
	}
}
