// Command schemactl inspects provenance schema files: it validates them
// against the builtin trigger and validator registries and prints the
// resolved properties of a class and the cross-class property index.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/schema"
	"github.com/rpattn/entityapi/internal/schema/validator"
	"github.com/rpattn/entityapi/internal/triggers"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var schemaPath string
	root := &cobra.Command{
		Use:           "schemactl",
		Short:         "Inspect and validate provenance schema files",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&schemaPath, "schema", "s", "", "schema YAML file (default: embedded schema)")

	load := func() (*schema.Catalog, error) {
		return loadCatalog(schemaPath)
	}
	root.AddCommand(
		newValidateCmd(load),
		newPropertiesCmd(load),
		newIndexCmd(load),
		newGroupsCmd(load),
	)
	return root
}

func loadCatalog(path string) (*schema.Catalog, error) {
	var source io.Reader = schema.DefaultSource()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open schema: %w", err)
		}
		defer f.Close()
		source = f
	}
	return schema.Load(source, schema.LoadOptions{
		Triggers:   triggers.Builtin(),
		Validators: validator.Registry{},
	})
}

func newValidateCmd(load func() (*schema.Catalog, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the schema and report the classes it defines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "schema OK: activity class %s\n", catalog.ActivityClass())
			for _, name := range catalog.EntityClasses() {
				class, err := catalog.Class(name)
				if err != nil {
					return err
				}
				line := fmt.Sprintf("  %s (%d properties)", name, class.Properties().Len())
				if class.Superclass != "" {
					line += " extends " + class.Superclass
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func newPropertiesCmd(load func() (*schema.Catalog, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "properties <class>",
		Short: "Print the effective properties of a class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := load()
			if err != nil {
				return err
			}
			props, err := catalog.EffectiveProperties(args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tFLAGS\tTRIGGERS")
			for _, rule := range props.Rules() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rule.Name, rule.Type, flags(rule), triggerList(rule))
			}
			return w.Flush()
		},
	}
}

func newIndexCmd(load func() (*schema.Catalog, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Print how every property name is produced across classes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := load()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTRIGGER\tGRAPH\tDEPENDS ON")
			for _, name := range catalog.PropertyNames() {
				idx, ok := catalog.IndexFor(name)
				if !ok {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name,
					joinOrDash(idx.TriggerClasses.Sorted()),
					joinOrDash(idx.GraphClasses.Sorted()),
					joinOrDash(idx.Dependencies.Sorted()))
			}
			return w.Flush()
		},
	}
}

func newGroupsCmd(load func() (*schema.Catalog, error)) *cobra.Command {
	var exclude bool
	cmd := &cobra.Command{
		Use:   "groups <class> <property>...",
		Short: "Resolve a property filter into storage, trigger and dependency groups",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := load()
			if err != nil {
				return err
			}
			filter := domain.PropertyFilter{Properties: args[1:], Mode: domain.FilterInclude}
			if exclude {
				filter.Mode = domain.FilterExclude
			}
			groups, err := catalog.ResolveGroups(args[0], filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, g := range []struct {
				label string
				set   schema.StringSet
			}{
				{"graph", groups.Graph},
				{"trigger", groups.Trigger},
				{"json", groups.JSON},
				{"list", groups.List},
				{"dependencies", groups.Dependencies},
				{"activity", groups.ActivityGraph},
				{"activity json/list", groups.ActivityJSONList},
			} {
				fmt.Fprintf(out, "%-20s %s\n", g.label+":", joinOrDash(g.set.Sorted()))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&exclude, "exclude", "x", false, "treat the properties as an exclusion list")
	return cmd
}

func flags(rule *schema.PropertyRule) string {
	var out []string
	for _, f := range []struct {
		set  bool
		name string
	}{
		{rule.Generated, "generated"},
		{rule.Immutable, "immutable"},
		{rule.RequiredOnCreate, "required"},
		{rule.Transient, "transient"},
		{!rule.Exposed, "hidden"},
		{!rule.Indexed, "unindexed"},
		{rule.AutoUpdate, "auto_update"},
		{rule.UseActivityValueIfNull, "activity_fallback"},
	} {
		if f.set {
			out = append(out, f.name)
		}
	}
	return joinOrDash(out)
}

func triggerList(rule *schema.PropertyRule) string {
	var out []string
	for _, phase := range domain.TriggerPhases {
		if name, ok := rule.Trigger(phase); ok {
			out = append(out, string(phase)+"="+name)
		}
	}
	return joinOrDash(out)
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ",")
}
