package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	feedsync "github.com/JordyChamba/feedsync"
	"github.com/JordyChamba/feedsync/pkg/models"
	"github.com/JordyChamba/feedsync/pkg/notification"
	"github.com/JordyChamba/feedsync/pkg/realtime"
)

func newLoginCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <username-or-email> <password>",
		Short: "Sign in and store the credential pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := opts.openCredentials()
			if err != nil {
				return err
			}
			defer creds.Close()

			pair, err := feedsync.Login(cmd.Context(), opts.cfg, creds, args[0], args[1], feedsync.WithLogger(opts.log))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (id %d)\n", pair.Username, pair.UserID)
			return nil
		},
	}
}

func newFeedCommand(opts *rootOptions) *cobra.Command {
	var more int

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Print the first page of the home feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd.Context(), func(s *feedsync.Session) error {
				res, err := s.Cache().Fetch(cmd.Context(), models.FeedKey())
				if err != nil {
					return err
				}
				for i := 0; i < more && !res.Exhausted; i++ {
					if res, err = s.Cache().FetchNext(cmd.Context(), models.FeedKey()); err != nil {
						return err
					}
				}
				printPosts(cmd.OutOrStdout(), s, res.IDs())
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&more, "more", 0, "number of extra pages to load")
	return cmd
}

func printPosts(w io.Writer, s *feedsync.Session, ids []models.RecordID) {
	if len(ids) == 0 {
		fmt.Fprintln(w, "the feed is empty")
		return
	}
	for _, id := range ids {
		r, ok := s.Records().Get(id)
		if !ok {
			continue
		}
		p := r.Post()
		author := "?"
		if a, ok := s.Records().Get(models.ProfileID(p.AuthorID)); ok {
			author = a.Profile().Username
		}
		liked := " "
		if p.IsLiked {
			liked = "*"
		}
		fmt.Fprintf(w, "#%-6d @%-16s %s%4d likes %4d comments  %s\n",
			p.ID, author, liked, p.LikesCount, p.CommentsCount, p.Text)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func newLikeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "like <postID>",
		Short: "Like a post, or unlike it when already liked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			postID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withSession(cmd.Context(), func(s *feedsync.Session) error {
				if _, err := s.LoadPost(cmd.Context(), postID); err != nil {
					return err
				}
				p, err := s.Coordinator().ToggleLike(cmd.Context(), postID)
				if err != nil {
					return err
				}
				if err := p.Wait(cmd.Context()); err != nil {
					return err
				}
				r, _ := s.Records().Get(models.PostID(postID))
				fmt.Fprintf(cmd.OutOrStdout(), "%s post %d, %d likes\n", p.Kind, postID, r.Post().LikesCount)
				return nil
			})
		},
	}
}

func newFollowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "follow <userID>",
		Short: "Follow a user, or unfollow when already following",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withSession(cmd.Context(), func(s *feedsync.Session) error {
				if _, err := s.LoadProfile(cmd.Context(), userID); err != nil {
					return err
				}
				p, err := s.Coordinator().ToggleFollow(cmd.Context(), userID)
				if err != nil {
					return err
				}
				if err := p.Wait(cmd.Context()); err != nil {
					return err
				}
				r, _ := s.Records().Get(models.ProfileID(userID))
				prof := r.Profile()
				fmt.Fprintf(cmd.OutOrStdout(), "%s @%s, %d followers\n", p.Kind, prof.Username, prof.FollowersCount)
				return nil
			})
		},
	}
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print notifications and connection changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return opts.withSession(ctx, func(s *feedsync.Session) error {
				return watch(ctx, cmd.OutOrStdout(), s)
			})
		},
	}
}

func watch(ctx context.Context, w io.Writer, s *feedsync.Session) error {
	out := make(chan string, 64)
	emit := func(line string) {
		select {
		case out <- line:
		default:
		}
	}

	defer s.Channel().Subscribe(func(ch realtime.StateChange) {
		if ch.Err != nil {
			emit(fmt.Sprintf("-- %s (%v)", ch.To, ch.Err))
			return
		}
		emit(fmt.Sprintf("-- %s", ch.To))
	})()

	feed := s.Notifications()
	defer feed.Subscribe(func(ch notification.Change) {
		if ch.Op != notification.OpIngest {
			return
		}
		if e, ok := feed.Get(ch.ID); ok {
			emit(fmt.Sprintf("[%s] %s  (%d unread)", e.Type, e.Message, ch.Unread))
		}
	})()

	if err := s.Bootstrap(ctx); err != nil {
		return err
	}
	fmt.Fprintf(w, "watching notifications for @%s, %d unread\n", s.Viewer().Username, feed.UnreadCount())

	for {
		select {
		case line := <-out:
			fmt.Fprintln(w, line)
		case <-ctx.Done():
			return nil
		}
	}
}
