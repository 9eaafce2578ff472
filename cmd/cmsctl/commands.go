package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/mutation"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/query"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
)

// listFlags binds the filter, sort and pagination flags of list commands.
type listFlags struct {
	page     int
	limit    int
	search   string
	sortBy   string
	order    string
	status   string
	author   string
	category string
	tags     []string
	featured bool
	active   bool
	extra    map[string]string
}

func (f *listFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVar(&f.page, "page", 1, "page number")
	fs.IntVar(&f.limit, "limit", query.DefaultLimit, "rows per page")
	fs.StringVar(&f.search, "search", "", "full-text search")
	fs.StringVar(&f.sortBy, "sort-by", "", "sort field")
	fs.StringVar(&f.order, "order", "", "sort order (asc|desc)")
	fs.StringVar(&f.status, "status", "", "status filter (draft|published|archived)")
	fs.StringVar(&f.author, "author", "", "author id filter")
	fs.StringVar(&f.category, "category", "", "category id filter")
	fs.StringSliceVar(&f.tags, "tag", nil, "tag filter, repeatable")
	fs.BoolVar(&f.featured, "featured", false, "only featured (--featured=false for the opposite)")
	fs.BoolVar(&f.active, "active", false, "only active (--active=false for the opposite)")
	fs.StringToStringVar(&f.extra, "param", nil, "extra query parameter key=value")
}

func (f *listFlags) params(cmd *cobra.Command) query.Params {
	p := query.Params{
		Page:      f.page,
		Limit:     f.limit,
		Search:    f.search,
		SortBy:    f.sortBy,
		SortOrder: f.order,
		Status:    f.status,
		Author:    f.author,
		Category:  f.category,
		Tags:      f.tags,
		Extra:     f.extra,
	}
	if cmd.Flags().Changed("featured") {
		p.IsFeatured = query.Bool(f.featured)
	}
	if cmd.Flags().Changed("active") {
		p.IsActive = query.Bool(f.active)
	}
	return p
}

func newListCmd(a *app) *cobra.Command {
	var (
		lf     listFlags
		public bool
	)
	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List posts, pages, categories or comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.resolve(cmd, args[0])
			if err != nil {
				return err
			}
			var page *resource.Page
			if public {
				page, err = svc.ListPublic(cmd.Context(), lf.params(cmd))
			} else {
				page, err = svc.List(cmd.Context(), lf.params(cmd))
			}
			if err = a.served(cmd, page != nil, err); err != nil {
				return err
			}
			return a.printPage(page)
		},
	}
	lf.register(cmd)
	cmd.Flags().BoolVar(&public, "public", false, "list only publicly visible entities")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	var slug, public bool
	cmd := &cobra.Command{
		Use:   "get <kind> <id>",
		Short: "Get one entity by id or slug",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.resolve(cmd, args[0])
			if err != nil {
				return err
			}
			var ent resource.Entity
			switch {
			case public:
				ent, err = svc.GetPublicBySlug(cmd.Context(), args[1])
			case slug:
				ent, err = svc.GetBySlug(cmd.Context(), args[1])
			default:
				ent, err = svc.Get(cmd.Context(), args[1])
			}
			if err = a.served(cmd, ent != nil, err); err != nil {
				return err
			}
			return a.print(ent)
		},
	}
	cmd.Flags().BoolVar(&slug, "slug", false, "treat the argument as a slug")
	cmd.Flags().BoolVar(&public, "public", false, "get a publicly visible entity by slug")
	return cmd
}

func newCreateCmd(a *app) *cobra.Command {
	var in payloadFlags
	cmd := &cobra.Command{
		Use:   "create <kind>",
		Short: "Create an entity from a JSON payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := in.read()
			if err != nil {
				return err
			}
			svc, err := a.resolve(cmd, args[0])
			if err != nil {
				return err
			}
			ent, err := svc.Create(cmd.Context(), payload)
			if err != nil {
				return failed(err)
			}
			return a.print(ent)
		},
	}
	in.register(cmd)
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var in payloadFlags
	cmd := &cobra.Command{
		Use:   "update <kind> <id>",
		Short: "Apply a partial JSON update to an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := in.read()
			if err != nil {
				return err
			}
			svc, err := a.resolve(cmd, args[0])
			if err != nil {
				return err
			}
			ent, err := svc.Update(cmd.Context(), args[1], patch)
			if err != nil {
				return failed(err)
			}
			return a.print(ent)
		},
	}
	in.register(cmd)
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <kind> <id>",
		Short: "Delete an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.resolve(cmd, args[0])
			if err != nil {
				return err
			}
			if err := svc.Delete(cmd.Context(), args[1]); err != nil {
				return failed(err)
			}
			return a.print(map[string]any{"deleted": args[1]})
		},
	}
}

func newPublishCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <kind> <id>",
		Short: "Publish an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.resolve(cmd, args[0])
			if err != nil {
				return err
			}
			ent, err := svc.Publish(cmd.Context(), args[1])
			if err != nil {
				return failed(err)
			}
			return a.print(ent)
		},
	}
}

func newBulkCmd(a *app) *cobra.Command {
	var (
		status   string
		flag     string
		value    bool
		tags     []string
		category string
	)
	cmd := &cobra.Command{
		Use:   "bulk <kind> <action> <id>...",
		Short: "Apply one action to a set of entities",
		Long: "Actions: delete, set-status (--status), set-flag (--flag, --value), " +
			"add-tags (--tag), remove-tags (--tag), assign-category (--category).",
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var op mutation.BulkOperation
			switch mutation.BulkAction(args[1]) {
			case mutation.BulkDelete:
				op = mutation.DeleteSet()
			case mutation.BulkSetStatus:
				op = mutation.SetStatus(status)
			case mutation.BulkSetFlag:
				op = mutation.SetFlag(flag, value)
			case mutation.BulkAddTags:
				op = mutation.AddTags(tags...)
			case mutation.BulkRemoveTags:
				op = mutation.RemoveTags(tags...)
			case mutation.BulkAssignCategory:
				op = mutation.AssignCategory(category)
			default:
				return fmt.Errorf("unknown bulk action %q", args[1])
			}

			svc, err := a.resolve(cmd, args[0])
			if err != nil {
				return err
			}
			res, err := svc.Bulk(cmd.Context(), args[2:], op)
			if err != nil {
				return failed(err)
			}
			return a.print(res)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status for set-status")
	cmd.Flags().StringVar(&flag, "flag", "", "flag for set-flag (isActive|isFeatured|allowComments)")
	cmd.Flags().BoolVar(&value, "value", true, "value for set-flag")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag for add-tags and remove-tags, repeatable")
	cmd.Flags().StringVar(&category, "category", "", "category id for assign-category")
	return cmd
}

func newTrendingCmd(a *app) *cobra.Command {
	var lf listFlags
	cmd := &cobra.Command{
		Use:   "trending",
		Short: "List trending posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			page, err := s.Posts.Trending(cmd.Context(), lf.params(cmd))
			if err = a.served(cmd, page != nil, err); err != nil {
				return err
			}
			return a.printPage(page)
		},
	}
	lf.register(cmd)
	return cmd
}

func newFeaturedCmd(a *app) *cobra.Command {
	var lf listFlags
	cmd := &cobra.Command{
		Use:   "featured",
		Short: "List featured posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			page, err := s.Posts.Featured(cmd.Context(), lf.params(cmd))
			if err = a.served(cmd, page != nil, err); err != nil {
				return err
			}
			return a.printPage(page)
		},
	}
	lf.register(cmd)
	return cmd
}

func newAuthorsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "authors",
		Short: "Rank authors by their posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			stats, err := s.Posts.TopAuthors(cmd.Context(), limit)
			if err = a.served(cmd, stats != nil, err); err != nil {
				return err
			}
			return a.print(stats)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "number of authors")
	return cmd
}

// payloadFlags reads a JSON object from --data or --file.
type payloadFlags struct {
	data string
	file string
}

func (p *payloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&p.data, "data", "d", "", "JSON object")
	cmd.Flags().StringVarP(&p.file, "file", "f", "", "file holding a JSON object")
}

func (p *payloadFlags) read() (map[string]any, error) {
	raw := []byte(p.data)
	switch {
	case p.data != "" && p.file != "":
		return nil, errors.New("use either --data or --file")
	case p.file != "":
		b, err := os.ReadFile(p.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		raw = b
	case strings.TrimSpace(p.data) == "":
		return nil, errors.New("a JSON payload is required (--data or --file)")
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return payload, nil
}

// served decides what a read error means for the command: a stale value
// is still printed with a warning, no value at all fails it.
func (a *app) served(cmd *cobra.Command, haveValue bool, err error) error {
	if err == nil {
		return nil
	}
	if !haveValue {
		return err
	}
	a.logger.LogWarn(cmd.Context(), "serving cached value after a failed refetch", "error", err)
	return nil
}

// failed turns a mutation error into the message the API gave for it.
func failed(err error) error {
	var me *mutation.Error
	if errors.As(err, &me) {
		return fmt.Errorf("%s %s failed: %s", me.Op, me.Kind, me.Message())
	}
	return err
}
