package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/sandeepkv93/session-guard/internal/config"
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/repository"
	"github.com/sandeepkv93/session-guard/internal/security"
)

type userOptions struct {
	email    string
	name     string
	password string
	withTOTP bool
}

func newUserCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage local users"}
	uo := &userOptions{}
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user with a password and optional TOTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(uo.email) == "" || uo.password == "" {
				return fmt.Errorf("--email and --password are required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, closeDB, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			hash, err := security.NewBcryptHasher(bcrypt.DefaultCost).Hash(uo.password)
			if err != nil {
				return err
			}
			user := &domain.User{
				ID:           uuid.NewString(),
				Email:        uo.email,
				Name:         uo.name,
				PasswordHash: hash,
			}
			var otpURL string
			if uo.withTOTP {
				key, err := totp.Generate(totp.GenerateOpts{Issuer: cfg.JWTIssuer, AccountName: strings.ToLower(strings.TrimSpace(uo.email))})
				if err != nil {
					return fmt.Errorf("generate totp secret: %w", err)
				}
				user.TOTPEnabled = true
				user.TOTPSecret = key.Secret()
				otpURL = key.URL()
			}
			if err := repository.NewUserRepository(db).Create(cmd.Context(), user); err != nil {
				return err
			}

			details := []string{"user_id=" + user.ID}
			if otpURL != "" {
				details = append(details, "otpauth="+otpURL)
			}
			if opts.ci {
				PrintCIResult(cmd.OutOrStdout(), true, "user create", details, nil)
				return nil
			}
			for _, d := range details {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}
	create.Flags().StringVar(&uo.email, "email", "", "login email")
	create.Flags().StringVar(&uo.name, "name", "", "display name")
	create.Flags().StringVar(&uo.password, "password", "", "initial password")
	create.Flags().BoolVar(&uo.withTOTP, "totp", false, "enable TOTP and print the otpauth URL")
	cmd.AddCommand(create)
	return cmd
}
