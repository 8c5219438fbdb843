package deadlock

import (
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/lockwatch/cmd/util"
	"github.com/ValentinKolb/lockwatch/lib/coordinator"
	"github.com/ValentinKolb/lockwatch/lib/mutex"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	DeadlockCmd = &cobra.Command{
		Use:   "deadlock",
		Short: "Provoke an ABBA deadlock and print the cycle report",
		Long: `Two goroutines transfer between two accounts, each locking the accounts in
opposite order. Once both hold their first lock they block on each other.
The command waits for the coordinator to report the cycle, prints it and
then breaks the deadlock by releasing the first locks.`,
		RunE: run,
	}
)

func init() {
	key := "wait"
	DeadlockCmd.Flags().Duration(key, 10*time.Second, util.WrapString("How long to wait for the cycle report before giving up"))
}

func run(_ *cobra.Command, _ []string) error {
	wait := viper.GetDuration("wait")

	cycles := make(chan coordinator.Cycle, 1)
	opts := util.GetCoordinatorOptions()
	opts.Sinks = append(opts.Sinks, coordinator.SinkFunc(func(r coordinator.Report) {
		for _, cy := range r.Cycles {
			select {
			case cycles <- cy:
			default:
			}
		}
	}))

	coord := coordinator.New(opts)
	defer coord.Close()

	a := mutex.NewWith(coord, "account-a", 100)
	b := mutex.NewWith(coord, "account-b", 100)

	fmt.Printf("Locks: %s = %s, %s = %s\n", a.ID(), "account-a", b.ID(), "account-b")
	fmt.Printf("Wait threshold: %s\n\n", opts.WaitThreshold)

	firsts := make(chan *mutex.Guard[int], 2)
	var bothHeld, done sync.WaitGroup
	bothHeld.Add(2)
	done.Add(2)

	transfer := func(from, to *mutex.Mutex[int], amount int) {
		defer done.Done()
		g1, _ := from.Lock()
		*g1.Value() -= amount
		firsts <- g1
		bothHeld.Done()
		bothHeld.Wait()

		g2, _ := to.Lock()
		defer g2.Unlock()
		*g2.Value() += amount
	}

	go transfer(a, b, 10)
	go transfer(b, a, 20)

	// the first guards are released below, on this goroutine
	g1, g2 := <-firsts, <-firsts

	var err error
	select {
	case cy := <-cycles:
		fmt.Printf("Deadlock detected: %s\n", cy)
		fmt.Printf("Locks involved: %v\n", cy.Locks())
	case <-time.After(wait):
		err = fmt.Errorf("no deadlock reported within %s", wait)
	}

	fmt.Println("Breaking the deadlock...")
	g1.Unlock()
	g2.Unlock()
	done.Wait()

	va, _ := a.IntoInner()
	vb, _ := b.IntoInner()
	fmt.Printf("Balances: account-a = %d, account-b = %d\n", va, vb)
	return err
}
