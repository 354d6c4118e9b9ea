package main

import (
	"encoding/json"
	"os"

	"github.com/andreyvit/ndb"
	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Validate and print the schema file",
	Long: `Validate and print the schema file in canonical form. With --json-schema,
print the JSON Schema of the schema file format instead, for editor
completion.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if js, _ := cmd.Flags().GetBool("json-schema"); js {
			r := jsonschema.Reflector{DoNotReference: true}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(r.Reflect(&ndb.SchemaFile{}))
		}
		scm, err := ndb.LoadSchemaFile(viper.GetString("schema"))
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(scm.File())
	},
}

func init() {
	schemaCmd.Flags().Bool("json-schema", false, wrapString("print the JSON Schema of the schema file format"))
}
