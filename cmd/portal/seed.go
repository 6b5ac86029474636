package main

import (
	"fmt"
	"os"

	"github.com/goliatone/go-member-auth/provider/embedded"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load members into the embedded directory",
	Long: `Load members from a YAML file or from flags. Existing members keep
their record and get the new password.

Example members.yml:
  members:
    - member_number: TM10003
      email: alice@example.org
      password: correct-horse
      first_name: Alice

  portal seed --file members.yml
  portal seed --member TM10004 --email bob@example.org --password secret`,
	RunE: runSeed,
}

type seedFile struct {
	Members []embedded.MemberFixture `yaml:"members"`
}

var (
	seedPath    string
	seedFixture embedded.MemberFixture
)

func init() {
	seedCmd.Flags().StringVarP(&seedPath, "file", "f", "", "YAML file with members")
	seedCmd.Flags().StringVar(&seedFixture.MemberNumber, "member", "", "member number")
	seedCmd.Flags().StringVar(&seedFixture.Email, "email", "", "member email")
	seedCmd.Flags().StringVar(&seedFixture.Password, "password", "", "member password")

	rootCmd.AddCommand(seedCmd)
}

func loadSeedFile(path string) ([]embedded.MemberFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	file := seedFile{}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	return file.Members, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	fixtures := []embedded.MemberFixture{}
	if seedPath != "" {
		loaded, err := loadSeedFile(seedPath)
		if err != nil {
			return err
		}
		fixtures = append(fixtures, loaded...)
	}

	if seedFixture.MemberNumber != "" {
		fixtures = append(fixtures, seedFixture)
	}

	if len(fixtures) == 0 {
		return fmt.Errorf("nothing to seed, use --file or --member")
	}

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	backend, err := a.requireEmbedded()
	if err != nil {
		return err
	}

	for _, fixture := range fixtures {
		member, err := backend.UpsertMember(ctx, fixture)
		if err != nil {
			return fmt.Errorf("failed to seed %s: %w", fixture.MemberNumber, err)
		}
		fmt.Printf("seeded %s <%s>\n", member.MemberNumber, member.Email)
	}

	return nil
}
