package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/buger/goterm"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/keyforge-dev/keyforge-go"
)

func newDeviceCommand(opts *options) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Print the identifier of this device",
		Long: `Print the identifier of this device.

The identifier is generated on first use and kept in the local state file.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			state, _, err := opts.session()
			if err != nil {
				return err
			}
			if name != "" && name != state.DeviceName {
				state.DeviceName = name
				if err := state.save(opts.statePath); err != nil {
					return fmt.Errorf("save local state: %w", err)
				}
			}
			fmt.Printf("%s\t%s\n", state.DeviceIdentifier, state.DeviceName)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "rename this device")
	return cmd
}

func newActivateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "activate LICENSE_KEY",
		Short: "Activate a license on this device and store its token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireProducts(); err != nil {
				return err
			}
			return withKeeper(cmd.Context(), opts, func(keeper *keyforge.TokenKeeper, state State, _ string) error {
				licenseKey := args[0]
				activation, verified, err := keeper.Activate(cmd.Context(), keyforge.KeeperParams{
					StoreKey:         opts.storeKey(licenseKey),
					ProductIDs:       opts.productIDs,
					DeviceIdentifier: state.DeviceIdentifier,
				}, licenseKey, state.DeviceName)
				if err != nil {
					return err
				}

				// The token store may share the state file, so reload it.
				latest, err := loadState(opts.statePath)
				if err != nil {
					return fmt.Errorf("load local state: %w", err)
				}
				latest.LicenseKey = licenseKey
				if err := latest.save(opts.statePath); err != nil {
					return fmt.Errorf("save local state: %w", err)
				}

				fmt.Println(goterm.Color("License activated", goterm.GREEN))
				printLicense(verified)
				log.WithField("activated", activation.Device.ActivationDate).Debug("activation complete")
				return nil
			})
		},
	}
}

func newValidateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Ask the license API whether the license is valid on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.requireProducts(); err != nil {
				return err
			}
			state, licenseKey, err := opts.session()
			if err != nil {
				return err
			}
			if licenseKey == "" {
				return newFriendlyError("no license key, pass --license")
			}

			client, err := opts.client()
			if err != nil {
				return err
			}
			validation, err := client.ValidateLicense(cmd.Context(), keyforge.ValidateLicenseParams{
				LicenseKey:       licenseKey,
				ProductIDs:       opts.productIDs,
				DeviceIdentifier: state.DeviceIdentifier,
			})
			if err != nil {
				return err
			}

			if !validation.IsValid {
				fmt.Println(goterm.Color("License is not valid on this device", goterm.RED))
				os.Exit(2)
			}
			fmt.Println(goterm.Color("License is valid", goterm.GREEN))
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
			defer w.Flush()
			fmt.Fprintf(w, "PRODUCT\t%s\n", validation.License.ProductID)
			fmt.Fprintf(w, "TYPE\t%s\n", validation.License.Type)
			fmt.Fprintf(w, "EXPIRES\t%s\n", formatExpiry(validation.License.ExpiresAt))
			fmt.Fprintf(w, "DEVICE\t%s (%s)\n", validation.Device.Name, validation.Device.Identifier)
			return nil
		},
	}
}

func newVerifyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the stored token offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.requireProducts(); err != nil {
				return err
			}
			state, licenseKey, err := opts.session()
			if err != nil {
				return err
			}
			if licenseKey == "" {
				return newFriendlyError("no license key, pass --license or run `keyforge activate`")
			}
			key, err := opts.publicKey()
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(cmd.Context(), opts.storeURI, opts.statePath)
			if err != nil {
				return err
			}
			defer closeStore()

			token, err := store.Load(cmd.Context(), opts.storeKey(licenseKey))
			if err != nil {
				return err
			}

			verified, err := keyforge.VerifyToken(token, key, keyforge.VerifyOptions{
				ProductIDs:       opts.productIDs,
				DeviceIdentifier: state.DeviceIdentifier,
			})
			if err != nil {
				return err
			}
			fmt.Println(goterm.Color("Token is valid", goterm.GREEN))
			printLicense(verified)
			return nil
		},
	}
}

func newRefreshCommand(opts *options) *cobra.Command {
	var policy keyforge.RefreshPolicy
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Verify the stored token and refresh it when it is about to expire",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.requireProducts(); err != nil {
				return err
			}
			return withKeeperPolicy(cmd.Context(), opts, policy, func(keeper *keyforge.TokenKeeper, state State, licenseKey string) error {
				if licenseKey == "" {
					return newFriendlyError("no license key, pass --license or run `keyforge activate`")
				}
				result, err := keeper.Validate(cmd.Context(), keyforge.KeeperParams{
					StoreKey:         opts.storeKey(licenseKey),
					ProductIDs:       opts.productIDs,
					DeviceIdentifier: state.DeviceIdentifier,
				})
				if err != nil {
					return err
				}

				if result.DidRefresh {
					fmt.Println(goterm.Color("Token refreshed", goterm.GREEN))
				} else {
					fmt.Println(goterm.Color("Token is valid", goterm.GREEN))
				}
				printLicense(result.Claims)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&policy.RefreshBefore, "before", keyforge.DefaultRefreshBefore,
		"refresh tokens expiring within this window; negative to only recover invalid tokens")
	cmd.Flags().BoolVar(&policy.DisableRefresh, "offline", false, "never contact the license API")
	return cmd
}

func newProductsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Manage products (requires " + keyforge.EnvAPIKey + ")",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			admin, err := keyforge.NewAdmin(opts.config())
			if err != nil {
				return err
			}
			products, err := admin.Products.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "ID\tNAME\tPORTAL\tCREATED")
			for _, p := range products {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", p.ID, p.Name, p.PortalShow, p.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	})
	return cmd
}

func withKeeper(ctx context.Context, opts *options, fn func(*keyforge.TokenKeeper, State, string) error) error {
	return withKeeperPolicy(ctx, opts, keyforge.RefreshPolicy{}, fn)
}

func withKeeperPolicy(ctx context.Context, opts *options, policy keyforge.RefreshPolicy, fn func(*keyforge.TokenKeeper, State, string) error) error {
	state, licenseKey, err := opts.session()
	if err != nil {
		return err
	}
	key, err := opts.publicKey()
	if err != nil {
		return err
	}
	client, err := opts.client()
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, opts.storeURI, opts.statePath)
	if err != nil {
		return err
	}
	defer closeStore()

	keeper, err := keyforge.NewTokenKeeper(client, store, key, policy)
	if err != nil {
		return err
	}
	return fn(keeper, state, licenseKey)
}

func printLicense(verified *keyforge.VerifiedToken) {
	if verified == nil {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "PRODUCT\t%s\n", verified.License.ProductID)
	fmt.Fprintf(w, "LICENSE\t%s\n", verified.License.Key)
	fmt.Fprintf(w, "TYPE\t%s\n", verified.License.Type)
	fmt.Fprintf(w, "EXPIRES\t%s\n", formatExpiry(verified.License.ExpiresAt))
	fmt.Fprintf(w, "TOKEN EXPIRES\t%s\n", formatExpiry(verified.ExpiresAt()))
	fmt.Fprintf(w, "DEVICE\t%s (%s)\n", verified.Device.Name, verified.Device.Identifier)
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}
