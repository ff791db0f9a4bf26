package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shivangsoni/ClaimsAI/internal/claims"
	"github.com/shivangsoni/ClaimsAI/internal/client"
	"github.com/shivangsoni/ClaimsAI/internal/service"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newClaimCmd groups the commands that drive a running server.
func newClaimCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Work with claims on a running claimsai server",
	}
	cmd.PersistentFlags().String("server", "http://localhost:8080", "claimsai server base URL")
	_ = v.BindPFlag("server_url", cmd.PersistentFlags().Lookup("server"))
	api := func() *client.Client { return client.NewClient(v.GetString("server_url")) }

	var (
		claimType string
		attrs     map[string]string
		document  string
	)
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Create a claim in the open state",
		Long: `Create a claim in the open state. With --document the claim is opened
from the document instead: it is analyzed right away and the extracted
fields become the claim's attributes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if document != "" {
				if len(attrs) > 0 {
					return fmt.Errorf("--attr cannot be combined with --document")
				}
				data, err := os.ReadFile(document)
				if err != nil {
					return err
				}
				out, err := api().SubmitDocument(cmd.Context(), filepath.Base(document), data, claimType)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			c, err := api().SubmitClaim(cmd.Context(), claimType, attrs)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		},
	}
	submit.Flags().StringVar(&claimType, "claim-type", "", "claim type (default profile when empty)")
	submit.Flags().StringToStringVar(&attrs, "attr", nil, "claim attribute key=value (repeatable)")
	submit.Flags().StringVar(&document, "document", "", "open the claim from this document file")

	get := &cobra.Command{
		Use:   "get <claim-id>",
		Short: "Show a claim with its documents and analyses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := api().GetClaim(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		},
	}

	var analyze bool
	upload := &cobra.Command{
		Use:   "upload <claim-id> <file>",
		Short: "Attach a document to a claim",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			out, err := api().UploadDocument(cmd.Context(), args[0], filepath.Base(args[1]), data, analyze, claimType)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	upload.Flags().BoolVar(&analyze, "analyze", false, "run analysis right after the upload")
	upload.Flags().StringVar(&claimType, "claim-type", "", "reference profile for the analysis")

	var req service.SetStatusRequest
	var expected string
	status := &cobra.Command{
		Use:   "status <claim-id> <status>",
		Short: "Move a claim to a new status",
		Long: fmt.Sprintf("Move a claim to a new status. Valid statuses: %s.",
			strings.Join([]string{
				string(claims.StatusValidationComplete), string(claims.StatusVerified),
				string(claims.StatusApproved), string(claims.StatusDenied), string(claims.StatusNeedMoreInfo),
			}, ", ")),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Status = claims.Status(args[1])
			req.ExpectedStatus = claims.Status(expected)
			tr, err := api().SetStatus(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tr)
		},
	}
	status.Flags().StringVar(&req.ChangedBy, "by", "", "reviewer making the change (required)")
	status.Flags().StringVar(&req.Reason, "reason", "", "reason for the change")
	status.Flags().StringVar(&req.Notes, "notes", "", "free-form notes")
	status.Flags().StringVar(&expected, "expect", "", "fail unless the claim is currently in this status")

	history := &cobra.Command{
		Use:   "history <claim-id>",
		Short: "Print the status transition audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := api().History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), h)
		},
	}

	reportCmd := &cobra.Command{
		Use:   "report <claim-id>",
		Short: "Print the claim report as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := api().ReportMarkdown(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), md)
			return err
		},
	}

	cmd.AddCommand(submit, get, upload, status, history, reportCmd)
	return cmd
}
