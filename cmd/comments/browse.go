package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/syssam/gqlcache"
	"github.com/syssam/gqlcache/client"
)

type browseOptions struct {
	endpoint string
	cacheDir string
	session  string
	last     int
	more     int
	add      string
	remove   string
}

func newBrowseCmd(root *rootOptions) *cobra.Command {
	opts := &browseOptions{}
	cmd := &cobra.Command{
		Use:   "browse [article-id]",
		Short: "List articles or show an article's comments",
		Long: `Browse the API through a cached client session.

Without an article id the articles are listed. With one, the newest comments
of the article are shown; --more loads older pages into the cached list, and
--add and --remove change the comments before the list is printed.

With --cache-dir (or client.cache_dir) the normalized cache of the session
is saved after every run and restored by the next one, so pages loaded
earlier are answered without a round trip.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if opts.endpoint == "" {
				opts.endpoint = cfg.Client.Endpoint
			}
			if opts.last <= 0 {
				opts.last = cfg.Client.PageSize
			}
			if opts.cacheDir == "" {
				opts.cacheDir = cfg.Client.CacheDir
			}
			logger := root.logger(cmd)
			copts := []client.Option{client.WithLogger(logger)}
			if opts.cacheDir != "" {
				copts = append(copts,
					client.WithPersistence(gqlcache.NewFileCache(opts.cacheDir)),
					client.WithSessionID(opts.session),
				)
			}
			c := client.New(client.NewHTTPTransport(opts.endpoint), copts...)
			restored, err := c.Restore(cmd.Context())
			if err != nil {
				return err
			}
			logger.Debug("browse session", "session", c.SessionID(), "restored", restored)

			if len(args) == 0 {
				err = listArticles(cmd, c)
			} else {
				err = browseArticle(cmd, c, args[0], opts)
			}
			if err != nil {
				return err
			}
			return c.Persist(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "GraphQL endpoint (overrides client.endpoint)")
	cmd.Flags().StringVar(&opts.cacheDir, "cache-dir", "", "Directory keeping the session cache between runs (overrides client.cache_dir)")
	cmd.Flags().StringVar(&opts.session, "session", "default", "Name of the cached session")
	cmd.Flags().IntVar(&opts.last, "last", 0, "Comments per page (overrides client.page_size)")
	cmd.Flags().IntVar(&opts.more, "more", 0, "Number of older pages to load")
	cmd.Flags().StringVar(&opts.add, "add", "", "Add a comment with this content")
	cmd.Flags().StringVar(&opts.remove, "remove", "", "Remove the comment with this id")
	return cmd
}

func listArticles(cmd *cobra.Command, c *client.Client) error {
	articles, err := c.Articles(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, a := range articles {
		fmt.Fprintf(out, "%s\t%s\n", a.ID, a.Title)
	}
	return nil
}

func browseArticle(cmd *cobra.Command, c *client.Client, id string, opts *browseOptions) error {
	ctx := cmd.Context()
	article, err := c.Article(ctx, id, opts.last)
	if err != nil {
		return err
	}
	for range opts.more {
		page, err := c.FetchMoreComments(ctx, id, opts.last)
		if err != nil {
			return err
		}
		if !page.PageInfo.HasPreviousPage {
			break
		}
	}
	if opts.add != "" {
		if _, err := c.AddComment(ctx, id, opts.add); err != nil {
			return err
		}
	}
	if opts.remove != "" {
		if err := c.RemoveComment(ctx, id, opts.remove); err != nil {
			return err
		}
	}
	page, err := c.Comments(ctx, id, opts.last, client.WithFetchPolicy(client.CacheOnly))
	if err != nil {
		return err
	}
	printPage(cmd.OutOrStdout(), article, page)
	return nil
}

func printPage(w io.Writer, a client.Article, page client.CommentPage) {
	fmt.Fprintf(w, "%s\t%s\n", a.ID, a.Title)
	fmt.Fprintf(w, "%d comments, showing %d\n", page.Count, len(page.Edges))
	for _, c := range page.Comments() {
		fmt.Fprintf(w, "  %s\t%s\n", c.ID, c.Content)
	}
	if page.PageInfo.HasPreviousPage {
		fmt.Fprintln(w, "  ...")
	}
}
