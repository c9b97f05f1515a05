package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/sparkle-tasks/sparkle/internal/config"
	"github.com/sparkle-tasks/sparkle/internal/gitops"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure sparkle for this repository",
	Long: `Write the sparkle_config section into package.json and ignore the
worktree directory in .gitignore. Run once per repository.

Non-interactive use:
  sparkle setup --branch sparkle-data --directory sparkles --worktree .sparkle-worktree
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		branch, _ := cmd.Flags().GetString("branch")
		directory, _ := cmd.Flags().GetString("directory")
		worktree, _ := cmd.Flags().GetString("worktree")

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		repoRoot, err := gitops.RepoRoot(cmd.Context(), cwd)
		if err != nil {
			return err
		}

		if existing, err := config.LoadProject(repoRoot); err == nil {
			return fmt.Errorf("already configured (branch %q, directory %q); edit package.json to change it",
				existing.GitBranch, existing.Directory)
		}

		if branch == "" {
			branch = "sparkle-data"
		}
		if directory == "" {
			directory = "sparkles"
		}
		if worktree == "" {
			worktree = ".sparkle-worktree"
		}

		interactive := isTerminal() && !cmd.Flags().Changed("branch") &&
			!cmd.Flags().Changed("directory") && !cmd.Flags().Changed("worktree")
		if interactive {
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewNote().
						Title("Sparkle Setup").
						Description("Pick the branch and directories sparkle will own.\nDefaults work for almost everyone."),
					huh.NewInput().
						Title("Data branch").
						Description("Event files are committed to this branch.").
						Value(&branch),
					huh.NewInput().
						Title("Data directory").
						Description("Directory on the branch holding the event files.").
						Value(&directory),
					huh.NewInput().
						Title("Worktree path").
						Description("Hidden checkout of the data branch, relative to the repo root.").
						Value(&worktree),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}
		}

		if err := gitops.ValidateBranchName(branch); err != nil {
			return err
		}
		project := &config.Project{
			GitBranch:    branch,
			Directory:    strings.Trim(directory, "/"),
			WorktreePath: strings.Trim(worktree, "/"),
		}
		if err := project.Validate(); err != nil {
			return err
		}

		if err := config.SaveProject(repoRoot, project); err != nil {
			return err
		}
		if err := config.EnsureGitignore(repoRoot, project.WorktreePath+"/"); err != nil {
			return err
		}

		fmt.Printf("configured: branch %s, directory %s, worktree %s\n",
			styled(idStyle, branch), directory, worktree)
		fmt.Println("next: run any sparkle command, or 'sparkle browser' for the UI")
		return nil
	},
}

func init() {
	setupCmd.Flags().String("branch", "", "Data branch name")
	setupCmd.Flags().String("directory", "", "Event-store directory on the branch")
	setupCmd.Flags().String("worktree", "", "Worktree path relative to the repo root")
	rootCmd.AddCommand(setupCmd)
}
