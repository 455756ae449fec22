package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joeydtaylor/hermes/pkg/admin"
	"github.com/joeydtaylor/hermes/pkg/core"
)

func defaultConfigPath() string {
	if p := os.Getenv("HERMES_CONFIG_PATH"); p != "" {
		return p
	}
	return "config.toml"
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "hermes-admin",
		Short:         "Administrative tools for the hermes webhook gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringP("config", "c", defaultConfigPath(), "path to the gateway config (.toml, .yml, .yaml)")

	root.AddCommand(validateCmd(), testTemplateCmd(), listEndpointsCmd())
	return root
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	return p
}

var errInvalid = errors.New("configuration is invalid")

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := core.ReadConfig(configPath(cmd))
			if err != nil {
				return err
			}
			rep := admin.ValidateConfig(cfg)
			out := cmd.OutOrStdout()
			for _, is := range rep.Issues {
				fmt.Fprintln(out, is.String())
			}
			if !rep.OK {
				return errInvalid
			}
			fmt.Fprintf(out, "configuration is valid: %d endpoints, %d templates\n", rep.Endpoints, rep.Templates)
			return nil
		},
	}
}

func testTemplateCmd() *cobra.Command {
	var endpoint, method, payload, templateID string
	cmd := &cobra.Command{
		Use:   "test-template",
		Short: "Render an endpoint's template against a sample payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if endpoint == "" && templateID == "" {
				return errors.New("one of --endpoint or --template is required")
			}
			v, err := admin.Load(configPath(cmd))
			if err != nil {
				return err
			}
			var out []byte
			if templateID != "" {
				out, err = v.TestTemplate(templateID, []byte(payload))
			} else {
				out, err = v.TestEndpoint(method, endpoint, []byte(payload))
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "", "endpoint path, e.g. /webhook/github")
	cmd.Flags().StringVarP(&method, "method", "m", "POST", "endpoint method")
	cmd.Flags().StringVarP(&templateID, "template", "t", "", "template id (instead of --endpoint)")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "JSON payload")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

func listEndpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-endpoints",
		Short: "List registered endpoints and their targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := admin.Load(configPath(cmd))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "METHOD\tENDPOINT\tTEMPLATE\tTARGETS")
			for _, ep := range v.ListEndpoints() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ep.Method, ep.Path, ep.Template, strings.Join(ep.Targets, ", "))
			}
			return tw.Flush()
		},
	}
}
