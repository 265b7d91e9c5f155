package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dl-alexandre/drivesync/internal/auth"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
	Long: `Manage the credentials used to reach Google Drive.

drivesync does not run an interactive login. Obtain an OAuth token with
the Drive scope elsewhere (for example with gcloud or an existing CLI) and
import it.`,
}

var authImportCmd = &cobra.Command{
	Use:   "import <token-file>",
	Short: "Import OAuth credentials",
	Long: `Import an OAuth token file. Both oauth2 token JSON and authorized_user
credential files are accepted. Use "-" to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthImport,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	RunE:  runAuthStatus,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE:  runAuthLogout,
}

func init() {
	authCmd.AddCommand(authImportCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthImport(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return out.WriteError("auth.import", utils.NewCLIError(utils.ErrCodeInvalidPath,
			fmt.Sprintf("Failed to read token file: %v", err)).Build())
	}

	mgr, err := newAuthManager(GetConfig(), GetLogger())
	if err != nil {
		return out.writeAppError("auth.import", err)
	}
	addStorageWarning(out, mgr.StorageWarning())
	if err := mgr.Import(data); err != nil {
		return out.writeAppError("auth.import", err)
	}

	status, err := mgr.Status()
	if err != nil {
		return out.writeAppError("auth.import", err)
	}
	out.Log("Credentials imported")
	return out.WriteSuccess("auth.import", authStatusMap(status))
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	mgr, err := newAuthManager(GetConfig(), GetLogger())
	if err != nil {
		return out.writeAppError("auth.status", err)
	}
	addStorageWarning(out, mgr.StorageWarning())
	status, err := mgr.Status()
	if err != nil {
		return out.writeAppError("auth.status", err)
	}
	if status.Invalid {
		out.AddWarning(utils.ErrCodeAuthInvalid, "Stored credentials were rejected; import new ones", "warning")
	}
	return out.WriteSuccess("auth.status", authStatusMap(status))
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	mgr, err := newAuthManager(GetConfig(), GetLogger())
	if err != nil {
		return out.writeAppError("auth.logout", err)
	}
	if err := mgr.Logout(); err != nil {
		return out.WriteError("auth.logout", utils.NewCLIError(utils.ErrCodeUnknown,
			fmt.Sprintf("Failed to remove credentials: %v", err)).Build())
	}

	out.Log("Credentials removed")
	return out.WriteSuccess("auth.logout", map[string]interface{}{
		"authenticated": false,
	})
}

func authStatusMap(status *auth.Status) map[string]interface{} {
	result := map[string]interface{}{
		"authenticated":  status.Authenticated,
		"invalid":        status.Invalid,
		"canRefresh":     status.CanRefresh,
		"storageBackend": status.Backend,
	}
	if !status.Expiry.IsZero() {
		result["expiry"] = status.Expiry.UTC().Format(time.RFC3339)
	}
	return result
}

func addStorageWarning(out *OutputWriter, warning string) {
	if warning == "" {
		return
	}
	severity := "warning"
	if strings.HasPrefix(warning, "INFO") {
		severity = "info"
	}
	out.AddWarning("STORAGE_FALLBACK", warning, severity)
}
