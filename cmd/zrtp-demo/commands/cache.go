package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backkem/zrtp/pkg/cache"
)

func cacheCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect a persistent secret cache",
	}
	cmd.PersistentFlags().StringVar(&path, "cache", "", "secret cache file")
	_ = cmd.MarkPersistentFlagRequired("cache")

	show := &cobra.Command{
		Use:   "show",
		Short: "List the self ZID and the cached peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cache.OpenFileStore(cache.FileStoreConfig{Path: path, LoggerFactory: loggerFactory})
			if err != nil {
				return err
			}
			self, err := store.SelfZID()
			if err != nil {
				return err
			}
			fmt.Printf("self ZID %s\n", self)

			peers := store.Peers()
			if len(peers) == 0 {
				fmt.Println("no cached peers")
				return nil
			}
			for _, zid := range peers {
				s, err := store.GetSecrets(zid)
				if err != nil {
					return err
				}
				fmt.Printf("peer %s: rs1=%t rs2=%t aux=%t pbx=%t verified=%t\n",
					zid, s.RS1 != nil, s.RS2 != nil, s.Aux != nil, s.PBX != nil, s.PreviouslyVerifiedSAS)
				s.Wipe()
			}
			return nil
		},
	}

	forget := &cobra.Command{
		Use:   "forget ZID",
		Short: "Remove the secrets cached for a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			zid, err := cache.ParseZID(args[0])
			if err != nil {
				return fmt.Errorf("invalid ZID %q: %w", args[0], err)
			}
			store, err := cache.OpenFileStore(cache.FileStoreConfig{Path: path, LoggerFactory: loggerFactory})
			if err != nil {
				return err
			}
			if err := store.Forget(zid); err != nil {
				return err
			}
			fmt.Printf("forgot peer %s\n", zid)
			return nil
		},
	}

	cmd.AddCommand(show, forget)
	return cmd
}
