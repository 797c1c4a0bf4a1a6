package main

import (
	"context"
	"fmt"
	"io"

	"github.com/MarcoPoloResearchLab/syncnote/internal/auth"
	"github.com/MarcoPoloResearchLab/syncnote/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd.Context(), cmd.OutOrStdout(), subject)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "User id the token is issued for")
	if err := cmd.MarkFlagRequired("subject"); err != nil {
		panic(err)
	}
	return cmd
}

func runToken(ctx context.Context, out io.Writer, subject string) error {
	serverConfig, err := config.LoadServer(viper.GetViper())
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(serverConfig.SigningSecret),
		Issuer:        serverConfig.Issuer,
		Audience:      serverConfig.Audience,
		TokenTTL:      serverConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	token, expiresIn, err := tokenIssuer.IssueToken(ctx, subject)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	fmt.Fprintf(out, "expires_in=%d\n", expiresIn)
	return nil
}
