package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rpggio/tally/internal/bulk"
	"github.com/rpggio/tally/internal/mcp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// importFile is the document form of an import: either a bare list of
// items or an object with an opinions key.
type importFile struct {
	Opinions []bulk.Item `json:"opinions" yaml:"opinions"`
}

func newIngestCommand(opts *rootOptions) *cobra.Command {
	var projectID, userID string
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Import opinions from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := readItems(args[0])
			if err != nil {
				return err
			}
			a, closeApp, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			result, err := a.Bulk.Ingest(cmd.Context(), projectID, userID, items)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id or replica id")
	cmd.Flags().StringVar(&userID, "user", mcp.DefaultUser, "acting user")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func readItems(path string) ([]bulk.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read import: %w", err)
	}
	items, err := parseItems(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return items, nil
}

func parseItems(data []byte, isJSON bool) ([]bulk.Item, error) {
	unmarshal := yaml.Unmarshal
	if isJSON {
		unmarshal = json.Unmarshal
	}

	var list []bulk.Item
	if err := unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc importFile
	if err := unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Opinions, nil
}
