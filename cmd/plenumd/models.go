package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/plenumhq/plenum/internal/keys"
	"github.com/plenumhq/plenum/internal/models"
)

var modelsFormat string

var modelsCmd = &cobra.Command{
	Use:   "models [collection]",
	Short: "Print the model definitions",
	Long: `Dump the built-in model registry, including the reverse relation
descriptors derived during registry build, as JSON or YAML. With a
collection argument only that model is printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().StringVar(&modelsFormat, "format", "json", "Output format: json or yaml")
	rootCmd.AddCommand(modelsCmd)
}

type modelDump struct {
	Collection string      `json:"collection" yaml:"collection"`
	Fields     []fieldDump `json:"fields" yaml:"fields"`
}

type fieldDump struct {
	Name     string        `json:"name" yaml:"name"`
	Type     string        `json:"type" yaml:"type"`
	Required bool          `json:"required,omitempty" yaml:"required,omitempty"`
	ReadOnly bool          `json:"read_only,omitempty" yaml:"read_only,omitempty"`
	Default  any           `json:"default,omitempty" yaml:"default,omitempty"`
	Enum     []int         `json:"enum,omitempty" yaml:"enum,omitempty,flow"`
	Relation *relationDump `json:"relation,omitempty" yaml:"relation,omitempty"`
}

type relationDump struct {
	To          []string `json:"to" yaml:"to,flow"`
	RelatedName string   `json:"related_name" yaml:"related_name"`
	Cardinality string   `json:"cardinality" yaml:"cardinality"`
	OnDelete    string   `json:"on_delete" yaml:"on_delete"`
	Generic     bool     `json:"generic,omitempty" yaml:"generic,omitempty"`
	Reverse     bool     `json:"reverse,omitempty" yaml:"reverse,omitempty"`
}

func runModels(cmd *cobra.Command, args []string) error {
	registry := models.Default()

	var collections []keys.Collection
	if len(args) == 1 {
		collections = []keys.Collection{keys.Collection(args[0])}
	} else {
		collections = registry.Collections()
	}

	dump := make([]modelDump, 0, len(collections))
	for _, collection := range collections {
		model, ok := registry.Model(collection)
		if !ok {
			return fmt.Errorf("unknown collection %q", collection)
		}
		dump = append(dump, dumpModel(model))
	}

	switch modelsFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(dump)
	case "yaml":
		data, err := yaml.Marshal(dump)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", modelsFormat)
	}
}

func dumpModel(model *models.Model) modelDump {
	fields := model.Fields()
	out := modelDump{
		Collection: string(model.Collection()),
		Fields:     make([]fieldDump, 0, len(fields)),
	}
	for _, field := range fields {
		entry := fieldDump{
			Name:     field.Name,
			Type:     field.Type.String(),
			Required: field.Required,
			ReadOnly: field.ReadOnly,
			Default:  field.Default,
			Enum:     field.Enum,
		}
		if r := field.Relation; r != nil {
			to := make([]string, len(r.To))
			for i, target := range r.To {
				to[i] = string(target)
			}
			entry.Relation = &relationDump{
				To:          to,
				RelatedName: r.RelatedName,
				Cardinality: string(r.Cardinality),
				OnDelete:    string(r.OnDelete),
				Generic:     r.Generic,
				Reverse:     r.IsReverse,
			}
		}
		out.Fields = append(out.Fields, entry)
	}
	return out
}
