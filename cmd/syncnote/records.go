package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/MarcoPoloResearchLab/syncnote/internal/config"
	"github.com/MarcoPoloResearchLab/syncnote/internal/editor"
	"github.com/MarcoPoloResearchLab/syncnote/internal/logging"
	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	"github.com/MarcoPoloResearchLab/syncnote/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// withEditor opens the local store named by the configuration and hands run an editor bound to it.
func withEditor(ctx context.Context, run func(context.Context, *editor.Service) error) error {
	clientConfig, err := config.LoadLocal(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(clientConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	localStore, err := store.OpenSQLite(clientConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer localStore.Close()

	service, err := editor.NewService(editor.ServiceConfig{
		Store:      localStore,
		IDProvider: notes.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	return run(ctx, service)
}

func placementFlag(cmd *cobra.Command) editor.Placement {
	if appendLast, _ := cmd.Flags().GetBool("append"); appendLast {
		return editor.PlacementAppend
	}
	return editor.PlacementPrepend
}

// changedString returns a pointer to the flag value when the flag was set on the command line.
func changedString(cmd *cobra.Command, flag string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	value, _ := cmd.Flags().GetString(flag)
	return &value
}

func newCollectionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collection",
		Short: "Create and edit collections in the local store",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Create a collection and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := editor.CollectionInput{Placement: placementFlag(cmd)}
			input.Name, _ = cmd.Flags().GetString("name")
			input.Description, _ = cmd.Flags().GetString("description")
			return withEditor(cmd.Context(), func(ctx context.Context, service *editor.Service) error {
				collection, err := service.CreateCollection(ctx, input)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), collection.ID)
				return nil
			})
		},
	}
	add.Flags().String("name", "", "Collection name")
	add.Flags().String("description", "", "Collection description")
	add.Flags().Bool("append", false, "Place after existing collections instead of first")
	_ = add.MarkFlagRequired("name")

	edit := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change the name or description of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := editor.CollectionPatch{
				Name:        changedString(cmd, "name"),
				Description: changedString(cmd, "description"),
			}
			return withEditor(cmd.Context(), func(ctx context.Context, service *editor.Service) error {
				_, err := service.UpdateCollection(ctx, args[0], patch)
				return err
			})
		},
	}
	edit.Flags().String("name", "", "New name")
	edit.Flags().String("description", "", "New description")

	cmd.AddCommand(add, edit, newMoveCommand(notes.KindCollection), newRemoveCommand(notes.KindCollection))
	return cmd
}

func newNoteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Create and edit notes in the local store",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Create a note in a collection and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := editor.NoteInput{Placement: placementFlag(cmd)}
			input.CollectionID, _ = cmd.Flags().GetString("collection")
			input.Title, _ = cmd.Flags().GetString("title")
			input.Description, _ = cmd.Flags().GetString("description")
			return withEditor(cmd.Context(), func(ctx context.Context, service *editor.Service) error {
				note, err := service.CreateNote(ctx, input)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), note.ID)
				return nil
			})
		},
	}
	add.Flags().String("collection", "", "Parent collection id")
	add.Flags().String("title", "", "Note title")
	add.Flags().String("description", "", "Note description")
	add.Flags().Bool("append", false, "Place after existing notes instead of first")
	_ = add.MarkFlagRequired("collection")
	_ = add.MarkFlagRequired("title")

	edit := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change the title or description of a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := editor.NotePatch{
				Title:       changedString(cmd, "title"),
				Description: changedString(cmd, "description"),
			}
			return withEditor(cmd.Context(), func(ctx context.Context, service *editor.Service) error {
				_, err := service.UpdateNote(ctx, args[0], patch)
				return err
			})
		},
	}
	edit.Flags().String("title", "", "New title")
	edit.Flags().String("description", "", "New description")

	cmd.AddCommand(add, edit, newMoveCommand(notes.KindNote), newRemoveCommand(notes.KindNote))
	return cmd
}

func newItemCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Create, check off and edit checklist items in the local store",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Create a checklist item in a note and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := editor.ItemInput{Placement: placementFlag(cmd)}
			input.NoteID, _ = cmd.Flags().GetString("note")
			input.Title, _ = cmd.Flags().GetString("title")
			input.Content, _ = cmd.Flags().GetString("content")
			return withEditor(cmd.Context(), func(ctx context.Context, service *editor.Service) error {
				item, err := service.CreateItem(ctx, input)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), item.ID)
				return nil
			})
		},
	}
	add.Flags().String("note", "", "Parent note id")
	add.Flags().String("title", "", "Item title")
	add.Flags().String("content", "", "Item content")
	add.Flags().Bool("append", false, "Place after existing items instead of first")
	_ = add.MarkFlagRequired("note")
	_ = add.MarkFlagRequired("title")

	edit := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change the title or content of a checklist item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := editor.ItemPatch{
				Title:   changedString(cmd, "title"),
				Content: changedString(cmd, "content"),
			}
			return withEditor(cmd.Context(), func(ctx context.Context, service *editor.Service) error {
				_, err := service.UpdateItem(ctx, args[0], patch)
				return err
			})
		},
	}
	edit.Flags().String("title", "", "New title")
	edit.Flags().String("content", "", "New content")

	cmd.AddCommand(
		add,
		edit,
		newCompletionCommand("done", "Mark a checklist item completed", true),
		newCompletionCommand("undone", "Mark a checklist item open again", false),
		newMoveCommand(notes.KindItem),
		newRemoveCommand(notes.KindItem),
	)
	return cmd
}

func newCompletionCommand(use, short string, completed bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEditor(cmd.Context(), func(ctx context.Context, service *editor.Service) error {
				_, err := service.UpdateItem(ctx, args[0], editor.ItemPatch{IsCompleted: &completed})
				return err
			})
		},
	}
}

func newMoveCommand(kind notes.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <position>",
		Short: fmt.Sprintf("Move a %s to a zero-based position among its siblings", kind),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			position, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("position %q is not a number", args[1])
			}
			return withEditor(cmd.Context(), func(ctx context.Context, service *editor.Service) error {
				return service.Move(ctx, kind, args[0], position)
			})
		},
	}
}

func newRemoveCommand(kind notes.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: fmt.Sprintf("Delete a %s; the deletion reaches the server on the next sync", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEditor(cmd.Context(), func(ctx context.Context, service *editor.Service) error {
				return service.Delete(ctx, kind, args[0])
			})
		},
	}
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List collections, the notes of a collection or the items of a note",
		Long:  "Lists live records in display order. A leading * marks records not yet pushed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			collectionID, _ := cmd.Flags().GetString("collection")
			noteID, _ := cmd.Flags().GetString("note")
			kind, parentID := notes.KindCollection, ""
			switch {
			case noteID != "":
				kind, parentID = notes.KindItem, noteID
			case collectionID != "":
				kind, parentID = notes.KindNote, collectionID
			}
			return withEditor(cmd.Context(), func(ctx context.Context, service *editor.Service) error {
				records, err := service.List(ctx, kind, parentID)
				if err != nil {
					return err
				}
				printRecords(cmd.OutOrStdout(), records)
				return nil
			})
		},
	}
	cmd.Flags().String("collection", "", "List the notes of this collection")
	cmd.Flags().String("note", "", "List the items of this note")
	cmd.MarkFlagsMutuallyExclusive("collection", "note")
	return cmd
}

func printRecords(out io.Writer, records []notes.Record) {
	for _, record := range records {
		marker := " "
		if record.Meta().IsDirty {
			marker = "*"
		}
		switch typed := record.(type) {
		case *notes.Collection:
			fmt.Fprintf(out, "%s %s %s\n", marker, typed.ID, typed.Name)
		case *notes.Note:
			fmt.Fprintf(out, "%s %s %s\n", marker, typed.ID, typed.Title)
		case *notes.ChecklistItem:
			check := "[ ]"
			if typed.IsCompleted {
				check = "[x]"
			}
			fmt.Fprintf(out, "%s %s %s %s\n", marker, typed.ID, check, typed.Title)
		}
	}
}
