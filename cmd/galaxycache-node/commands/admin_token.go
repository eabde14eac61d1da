package commands

import (
	"fmt"

	adminauth "github.com/marmos91/galaxycache/internal/adminapi/auth"
	"github.com/marmos91/galaxycache/pkg/config"
	"github.com/spf13/cobra"
)

var (
	adminTokenSubject string
	adminTokenRole    string
)

var adminTokenCmd = &cobra.Command{
	Use:   "admin-token",
	Short: "Issue a bearer token for this node's admin API",
	Long: `Mint a JWT for the admin API, signed with this node's configured
admin_api.jwt.secret. There is no login endpoint: tokens are minted
out-of-band by an operator who already holds the shared secret, then
distributed to whoever needs viewer or admin access.

Examples:
  # Issue a viewer token for a monitoring integration
  galaxycache-node admin-token --subject grafana --role viewer

  # Issue an admin token for an operator
  galaxycache-node admin-token --subject alice --role admin`,
	RunE: runAdminToken,
}

func init() {
	adminTokenCmd.Flags().StringVar(&adminTokenSubject, "subject", "", "Token subject, e.g. a username or integration name (required)")
	adminTokenCmd.Flags().StringVar(&adminTokenRole, "role", string(adminauth.RoleViewer), "Token role: admin or viewer")
	_ = adminTokenCmd.MarkFlagRequired("subject")
}

func runAdminToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	var role adminauth.Role
	switch adminTokenRole {
	case string(adminauth.RoleAdmin):
		role = adminauth.RoleAdmin
	case string(adminauth.RoleViewer):
		role = adminauth.RoleViewer
	default:
		return fmt.Errorf("invalid --role %q (valid: admin, viewer)", adminTokenRole)
	}

	svc, err := adminauth.NewJWTService(adminauth.JWTConfig{
		Secret: cfg.AdminAPI.JWT.Secret,
		TTL:    cfg.AdminAPI.JWT.TTL,
	})
	if err != nil {
		return fmt.Errorf("admin API is not configured for tokens: %w", err)
	}

	token, expiresAt, err := svc.IssueToken(adminTokenSubject, role)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Println(token)
	fmt.Printf("# subject=%s role=%s expires=%s\n", adminTokenSubject, role, expiresAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}
