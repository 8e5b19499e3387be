package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"photo-indexer/internal/database"
	"photo-indexer/internal/identity"
)

// peopleStore is the identity surface the people commands drive.
type peopleStore interface {
	ListPersons(ctx context.Context) ([]database.Person, error)
	MergePersons(ctx context.Context, keep, absorbed int64) error
	DeletePerson(ctx context.Context, id int64) error
	DeleteEmpty(ctx context.Context) (int, error)
	RenamePerson(ctx context.Context, id int64, name string) error
}

func newPeopleCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "people",
		Short: "Inspect and maintain person identities",
	}

	cmd.AddCommand(newPeopleListCommand(ctx))
	cmd.AddCommand(newPeopleMergeCommand(ctx))
	cmd.AddCommand(newPeopleDeleteCommand(ctx))
	cmd.AddCommand(newPeoplePruneCommand(ctx))
	cmd.AddCommand(newPeopleRenameCommand(ctx))
	return cmd
}

// withPeople opens the index and hands the identity manager to fn.
func (c *commandContext) withPeople(cmd *cobra.Command, fn func(context.Context, peopleStore) error) error {
	if c.people != nil {
		return fn(cmd.Context(), c.people)
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a.people)
}

func newPeopleListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persons with their photo counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withPeople(cmd, func(c context.Context, people peopleStore) error {
				persons, err := people.ListPersons(c)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, persons)
				}
				if len(persons) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No persons")
					return nil
				}
				rows := make([][]string, 0, len(persons))
				for i := range persons {
					p := &persons[i]
					name := p.DisplayName()
					if name == "" {
						name = "-"
					}
					rows = append(rows, []string{
						strconv.FormatInt(p.ID, 10),
						name,
						strconv.Itoa(p.PhotoCount),
						p.CreatedAt.Local().Format("2006-01-02"),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Photos", "Created"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newPeopleMergeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "merge KEEP ABSORBED",
		Short: "Move every face of ABSORBED onto KEEP and delete ABSORBED",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			keep, err := parsePersonID(args[0])
			if err != nil {
				return err
			}
			absorbed, err := parsePersonID(args[1])
			if err != nil {
				return err
			}
			return ctx.withPeople(cmd, func(c context.Context, people peopleStore) error {
				if err := people.MergePersons(c, keep, absorbed); err != nil {
					return describeIdentityError(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Merged person %d into %d\n", absorbed, keep)
				return nil
			})
		},
	}
}

func newPeopleDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a person and return their faces to the review queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePersonID(args[0])
			if err != nil {
				return err
			}
			return ctx.withPeople(cmd, func(c context.Context, people peopleStore) error {
				if err := people.DeletePerson(c, id); err != nil {
					return describeIdentityError(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted person %d\n", id)
				return nil
			})
		},
	}
}

func newPeoplePruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete persons with no assigned faces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withPeople(cmd, func(c context.Context, people peopleStore) error {
				n, err := people.DeleteEmpty(c)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d empty persons\n", n)
				return nil
			})
		},
	}
}

func newPeopleRenameCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a person",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePersonID(args[0])
			if err != nil {
				return err
			}
			name := strings.Join(args[1:], " ")
			return ctx.withPeople(cmd, func(c context.Context, people peopleStore) error {
				if err := people.RenamePerson(c, id, name); err != nil {
					return describeIdentityError(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed person %d to %q\n", id, identity.NormalizeName(name))
				return nil
			})
		},
	}
}

func parsePersonID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid person id %q", arg)
	}
	return id, nil
}

func describeIdentityError(err error) error {
	switch {
	case errors.Is(err, identity.ErrPersonNotFound):
		return fmt.Errorf("person not found")
	case errors.Is(err, identity.ErrSamePerson):
		return fmt.Errorf("cannot merge a person into itself")
	case errors.Is(err, identity.ErrNameTaken):
		return fmt.Errorf("another person already has that name")
	case errors.Is(err, identity.ErrEmptyName):
		return fmt.Errorf("name is empty")
	default:
		return err
	}
}
