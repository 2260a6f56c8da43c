package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"connidx/internal/project"
)

var (
	projectsRoot    string
	projectsInclude []string
	projectsExclude []string
	projectsPurge   bool
	projectsDetect  bool
	projectsFormat  string
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage registered projects",
}

var projectsAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Register a project tree",
	Long: `Register a project tree. Without --include the primary language is
detected from manifest files (go.mod, package.json, Cargo.toml, ...) and
its source globs are used.`,
	Example: `  connidx projects add api --root ../api --include '**/*.go' --exclude '**/testdata/**'`,
	Args:    cobra.ExactArgs(1),
	RunE:    runProjectsAdd,
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	RunE:  runProjectsList,
}

var projectsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Unregister a project",
	Long: `Unregister a project. With --purge its pending checkpoints are discarded
as well; indexed files and connections are left in place.`,
	Args: cobra.ExactArgs(1),
	RunE: runProjectsRemove,
}

func init() {
	projectsAddCmd.Flags().StringVar(&projectsRoot, "root", ".", "Project root directory")
	projectsAddCmd.Flags().StringSliceVar(&projectsInclude, "include", nil, "Include globs (default: all files)")
	projectsAddCmd.Flags().StringSliceVar(&projectsExclude, "exclude", nil, "Exclude globs")
	projectsAddCmd.Flags().BoolVar(&projectsDetect, "detect", true, "Derive default globs from the detected language")
	projectsListCmd.Flags().StringVar(&projectsFormat, "format", "human", "Output format (human, json, yaml)")
	projectsRemoveCmd.Flags().BoolVar(&projectsPurge, "purge", false, "Also discard pending checkpoints")

	projectsCmd.AddCommand(projectsAddCmd, projectsListCmd, projectsRemoveCmd)
	rootCmd.AddCommand(projectsCmd)
}

func runProjectsAdd(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	include, exclude := projectsInclude, projectsExclude
	lang := project.LangUnknown
	if projectsDetect && len(include) == 0 {
		if detected, manifest, ok := project.DetectLanguage(projectsRoot); ok {
			lang = detected
			include = project.DefaultIncludes(lang)
			exclude = append(exclude, project.DefaultExcludes(lang)...)
			a.logger.Debug("Detected project language", "language", string(lang), "manifest", manifest)
		}
	}

	p, err := a.registry.Add(args[0], projectsRoot, include, exclude)
	if err != nil {
		return err
	}
	if err := a.registry.Save(); err != nil {
		return err
	}
	if lang != project.LangUnknown {
		fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s) at %s\n", p.ID, lang, p.Root)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s at %s\n", p.ID, p.Root)
	return nil
}

func runProjectsList(cmd *cobra.Command, args []string) error {
	format, err := ParseFormat(projectsFormat)
	if err != nil {
		return err
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	projects := a.registry.List()
	if format != FormatHuman {
		return printResponse(cmd.OutOrStdout(), projects, format)
	}
	if len(projects) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No projects registered. Use 'connidx projects add'.")
		return nil
	}
	for _, p := range projects {
		line := fmt.Sprintf("%-20s %s", p.ID, p.Root)
		if len(p.Include) > 0 {
			line += "  include=" + strings.Join(p.Include, ",")
		}
		if len(p.Exclude) > 0 {
			line += "  exclude=" + strings.Join(p.Exclude, ",")
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}

func runProjectsRemove(cmd *cobra.Command, args []string) error {
	id := args[0]
	if projectsPurge {
		a, err := openApp("")
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.registry.Get(id); err != nil {
			return err
		}
		ctx, cancel := newContext()
		defer cancel()
		if err := a.store.ClearAll(ctx, id); err != nil {
			return err
		}
		return removeProject(cmd, a, id)
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return removeProject(cmd, a, id)
}

func removeProject(cmd *cobra.Command, a *app, id string) error {
	if err := a.registry.Remove(id); err != nil {
		return err
	}
	if err := a.registry.Save(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
	return nil
}
