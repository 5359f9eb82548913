package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/keyforge-dev/keyforge-go"
)

// options are the flags shared by every command.
type options struct {
	baseURL       string
	statePath     string
	storeURI      string
	publicKeyPath string
	productIDs    []string
	licenseKey    string
	verbose       bool
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "keyforge",
		Short: "Activate, verify and refresh Keyforge licenses",

		// Errors are printed by handleFatalError.
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRun: func(*cobra.Command, []string) {
			if opts.verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.baseURL, "base-url", "", "license API base URL (default $"+keyforge.EnvBaseURL+" or "+keyforge.DefaultBaseURL+")")
	flags.StringVar(&opts.statePath, "state", defaultStatePath, "path of the local state file")
	flags.StringVar(&opts.storeURI, "store", os.Getenv("KEYFORGE_STORE"),
		"token store URI (redis://, mongodb://, postgres://, sqlite://); the state file when empty")
	flags.StringVar(&opts.publicKeyPath, "public-key", os.Getenv("KEYFORGE_PUBLIC_KEY_FILE"), "JWK or PEM public key file")
	flags.StringSliceVarP(&opts.productIDs, "product", "p", nil, "product ID; may be repeated")
	flags.StringVarP(&opts.licenseKey, "license", "l", "", "license key (default: the last activated license)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newDeviceCommand(opts),
		newActivateCommand(opts),
		newValidateCommand(opts),
		newVerifyCommand(opts),
		newRefreshCommand(opts),
		newProductsCommand(opts),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		handleFatalError(err)
	}
}

func (o *options) config() keyforge.Config {
	cfg := keyforge.ConfigFromEnv()
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	cfg.Logger = log.StandardLogger()
	return cfg
}

func (o *options) client() (*keyforge.Client, error) {
	return keyforge.NewClient(o.config())
}

func (o *options) publicKey() (*keyforge.PublicKey, error) {
	if o.publicKeyPath == "" {
		return nil, newFriendlyError("a public key is required, pass --public-key or set KEYFORGE_PUBLIC_KEY_FILE")
	}
	return keyforge.LoadPublicKey(o.publicKeyPath)
}

func (o *options) requireProducts() error {
	if len(o.productIDs) == 0 {
		return newFriendlyError("at least one --product is required")
	}
	return nil
}

// session loads the state, making sure a device identifier exists, and
// resolves the license key to operate on.
func (o *options) session() (State, string, error) {
	state, err := loadState(o.statePath)
	if err != nil {
		return state, "", fmt.Errorf("load local state: %w", err)
	}
	if state.ensureDevice() {
		if err := state.save(o.statePath); err != nil {
			return state, "", fmt.Errorf("save local state: %w", err)
		}
	}

	licenseKey := strings.TrimSpace(o.licenseKey)
	if licenseKey == "" {
		licenseKey = state.LicenseKey
	}
	return state, licenseKey, nil
}

func (o *options) storeKey(licenseKey string) string {
	return keyforge.StoreKey(strings.Join(o.productIDs, ","), licenseKey)
}
