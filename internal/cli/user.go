package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"brokerdash/internal/auth"
	"brokerdash/internal/broker"
	"brokerdash/internal/security"
	"brokerdash/pkg/utils"
)

func newUserCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage dashboard users and their broker links",
	}

	cmd.AddCommand(newUserAddCmd(app))
	cmd.AddCommand(newUserLinkCmd(app))
	cmd.AddCommand(newUserUnlinkCmd(app))
	cmd.AddCommand(newUserListCmd(app))
	return cmd
}

// readSecret returns the flag value, or the first line of stdin when the
// flag is empty.
func readSecret(cmd *cobra.Command, flag, prompt string) (string, error) {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func newUserAddCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a dashboard user",
		Example: `  brokerdash user add --email me@example.com --name Me
  echo "$PASSWORD" | brokerdash user add --email me@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			svc, err := openServices(ctx, app.Config, app.Logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			password, err := readSecret(cmd, "password", "Password: ")
			if err != nil {
				return err
			}

			user, _, err := svc.auth.Register(ctx, auth.RegisterRequest{Email: email, Password: password, Name: name})
			event := security.AuditEvent{EventType: security.AuditRegister, Action: "cli"}
			if user != nil {
				event.UserID = user.ID
			}
			svc.record(ctx, event, err)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"id": user.ID, "email": user.Email})
			}
			output.Success("✓ Created user %s (%s)", user.Email, user.ID)
			return nil
		},
	}

	cmd.Flags().String("email", "", "login email")
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("password", "", "password (read from stdin when omitted)")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newUserLinkCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link a user to a broker account",
		Long: `Log in to the broker on behalf of a user and store the encrypted session.

SmartAPI needs the client code, PIN and a TOTP code (or the base32 TOTP
secret). Kite needs the request token from its login redirect; run without
--request-token to print the login URL.`,
		Example: `  brokerdash user link --user me@example.com --client-code A123 --totp 123456
  brokerdash user link --user me@example.com --request-token XXXX`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			svc, err := openServices(ctx, app.Config, app.Logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			user, err := svc.resolveUser(ctx, userFlag(cmd))
			if err != nil {
				return err
			}

			req := broker.LoginRequest{}
			req.ClientCode, _ = cmd.Flags().GetString("client-code")
			req.TOTP, _ = cmd.Flags().GetString("totp")
			req.RequestToken, _ = cmd.Flags().GetString("request-token")

			if kite, ok := svc.gateway.(*broker.KiteGateway); ok && req.RequestToken == "" {
				output.Info("Open this URL, log in and pass the request_token back with --request-token:")
				output.Println(kite.LoginURL())
				return nil
			}
			if req.RequestToken == "" {
				if req.Password, err = readSecret(cmd, "password", "Broker PIN: "); err != nil {
					return err
				}
			}

			session, err := svc.auth.LinkBroker(ctx, user.ID, req)
			svc.record(ctx, security.AuditEvent{
				EventType: security.AuditBrokerLink,
				UserID:    user.ID,
				Action:    "link",
				Details:   map[string]interface{}{"client_code": security.MaskCredential(req.ClientCode)},
			}, err)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"client_code": session.ClientCode,
					"linked_at":   session.LinkedAt,
					"expires_at":  session.ExpiresAt,
				})
			}
			output.Success("✓ Linked %s to broker client %s", user.Email, session.ClientCode)
			output.Dim("Session expires %s", session.ExpiresAt.In(utils.IndiaLocation).Format("02-Jan-2006 15:04 MST"))
			return nil
		},
	}

	addUserFlag(cmd)
	cmd.Flags().String("client-code", "", "broker client code")
	cmd.Flags().String("password", "", "broker PIN or password (read from stdin when omitted)")
	cmd.Flags().String("totp", "", "TOTP code or base32 TOTP secret")
	cmd.Flags().String("request-token", "", "Kite request token")
	return cmd
}

func newUserUnlinkCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlink",
		Short: "Remove a user's stored broker session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := openServices(ctx, app.Config, app.Logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			user, err := svc.resolveUser(ctx, userFlag(cmd))
			if err != nil {
				return err
			}
			err = svc.auth.UnlinkBroker(ctx, user.ID)
			svc.record(ctx, security.AuditEvent{EventType: security.AuditBrokerLink, UserID: user.ID, Action: "unlink"}, err)
			if err != nil {
				return err
			}
			NewOutput(cmd).Success("✓ Unlinked %s", user.Email)
			return nil
		},
	}
	addUserFlag(cmd)
	return cmd
}

type userRow struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	ClientCode string `json:"client_code,omitempty"`
	Linked     bool   `json:"linked"`
}

func newUserListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List dashboard users",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			svc, err := openServices(ctx, app.Config, app.Logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			users, err := svc.store.ListUsers(ctx)
			if err != nil {
				return err
			}

			rows := make([]userRow, 0, len(users))
			for _, u := range users {
				row := userRow{ID: u.ID, Email: u.Email, Name: u.Name}
				if u.Broker != nil {
					row.ClientCode = u.Broker.ClientCode
					row.Linked = true
				}
				rows = append(rows, row)
			}

			if output.IsJSON() {
				return output.JSON(rows)
			}
			if len(rows) == 0 {
				output.Dim("No users. Create one with 'brokerdash user add'.")
				return nil
			}
			table := NewTable(output, "EMAIL", "NAME", "BROKER", "ID")
			for _, r := range rows {
				code := "-"
				if r.Linked {
					code = r.ClientCode
				}
				table.AddRow(r.Email, r.Name, code, r.ID)
			}
			table.Render()
			return nil
		},
	}
}

func addUserFlag(cmd *cobra.Command) {
	cmd.Flags().String("user", "", "dashboard user email")
}

func userFlag(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetString("user")
	return v
}
