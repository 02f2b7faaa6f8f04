package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/intercooperative/icn-core/core"
)

// main wires a thin cobra command tree over RuntimeContext: a demo surface
// for local experimentation, not a full node binary. A real deployment's
// embedding layer owns process lifecycle, persistence, and networking.
func main() {
	rootCmd := &cobra.Command{Use: "icnd"}
	rootCmd.AddCommand(nodeCmd())
	rootCmd.AddCommand(manaCmd())
	rootCmd.AddCommand(jobCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newDemoContext builds a RuntimeContext and seeds a couple of DIDs so the
// demo commands below have something to act on. When cfgPath is non-empty
// it is loaded via core.LoadNodeConfig; otherwise sensible in-memory
// defaults are used. Identities are not persisted across runs either way —
// a real embedding layer owns that.
func newDemoContext(cfgPath string) (*core.RuntimeContext, core.DID, core.DID) {
	cfg := core.NodeConfig{
		NodeID: "icnd-demo",
		Mana: core.ManaLedgerConfig{BaseCapacity: 10_000},
		Mesh: core.MeshRuntimeConfig{MaxRetries: 3},
	}
	if cfgPath != "" {
		loaded, err := core.LoadNodeConfig(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	rc, err := core.NewRuntimeContext(context.Background(), cfg, nil, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "construct runtime context: %v\n", err)
		os.Exit(1)
	}

	alice, _ := core.ParseDID("did:icn:alice")
	bob, _ := core.ParseDID("did:icn:bob")
	rc.Mana.OpenAccount(alice, core.OrgCooperative, core.HardwareMetrics{Cores: 4, MemoryMB: 8192, UptimePercent: 1, SuccessRate: 1})
	rc.Mana.OpenAccount(bob, core.OrgCooperative, core.HardwareMetrics{Cores: 4, MemoryMB: 8192, UptimePercent: 1, SuccessRate: 1})
	_ = rc.Mana.SetBalance(alice, 1000)
	_ = rc.Mana.SetBalance(bob, 1000)
	return rc, alice, bob
}

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node"}
	start := &cobra.Command{
		Use: "start [config]",
		Short: "start a demo node and run one maintenance tick",
		Run: func(cmd *cobra.Command, args []string) {
			cfgPath := ""
			if len(args) > 0 {
				cfgPath = args[0]
			}
			fmt.Printf("starting demo icn node (config=%q)\n", cfgPath)
			rc, _, _ := newDemoContext(cfgPath)
			defer rc.Close()
			rc.Tick(time.Now())
			fmt.Println("maintenance tick complete: mana regenerated, overdue proposals swept")
		},
	}
	cmd.AddCommand(start)
	return cmd
}

func manaCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mana"}

	balance := &cobra.Command{
		Use: "balance [did]",
		Short: "print a demo account's current mana balance",
		Run: func(cmd *cobra.Command, args []string) {
			rc, alice, _ := newDemoContext("")
			defer rc.Close()
			target := alice
			if len(args) > 0 {
				if d, err := core.ParseDID(args[0]); err == nil {
					target = d
				}
			}
			bal, err := rc.Host.GetAvailableMana(target)
			if err != nil {
				fmt.Fprintf(os.Stderr, "get balance: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s balance: %d mana\n", target, bal)
		},
	}

	spend := &cobra.Command{
		Use: "spend",
		Short: "spend mana from the demo alice account",
		Run: func(cmd *cobra.Command, args []string) {
			rc, alice, _ := newDemoContext("")
			defer rc.Close()
			amt, _ := cmd.Flags().GetUint64("amt")
			if err := rc.Host.ConsumeMana(alice, amt); err != nil {
				fmt.Fprintf(os.Stderr, "spend mana: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("spent %d mana from %s\n", amt, alice)
		},
	}
	spend.Flags().Uint64("amt", 0, "amount of mana to spend")
	cmd.AddCommand(balance, spend)
	return cmd
}

func jobCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "job"}

	submit := &cobra.Command{
		Use: "submit",
		Short: "submit a mock echo mesh job via the host ABI",
		Run: func(cmd *cobra.Command, args []string) {
			rc, alice, _ := newDemoContext("")
			defer rc.Close()
			payload := fmt.Sprintf(`{"manifest_cid":"demo","spec_kind":"echo","cost_mana":%d,"max_wait_ms":5000}`, 50)
			job, err := rc.Host.SubmitMeshJob(alice, []byte(payload))
			if err != nil {
				fmt.Fprintf(os.Stderr, "submit job: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("submitted job %s as %s, state=%s\n", job.ID, alice, job.State)
		},
	}
	cmd.AddCommand(submit)
	return cmd
}
