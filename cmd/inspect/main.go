package main

import (
	"chat-relay/repositories"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/database"
	"github.com/olekukonko/tablewriter"
)

// inspect prints the stored messages of a Badger directory as a table.
// It opens the DB read-only, so it can run next to a live relay.
func main() {
	dbPath := flag.String("db", database.DefaultPath, "Path to badger DB")
	room := flag.String("room", "", "Only show this room")
	limit := flag.Int("limit", 0, "Stop after this many rows, 0 means no limit")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Room", "Seq", "Time", "Sender", "ID", "Text"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	rows := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(repositories.MessagePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if *limit > 0 && rows >= *limit {
				return nil
			}
			item := it.Item()
			keyRoom, seq, err := repositories.ParseMessageKey(item.Key())
			if err != nil {
				fmt.Printf("Skipping key %q: %v\n", item.Key(), err)
				continue
			}
			if *room != "" && keyRoom.String() != *room {
				continue
			}

			err = item.Value(func(v []byte) error {
				message, err := repositories.DecodeMessage(v)
				if err != nil {
					fmt.Printf("Error decoding key %s: %v\n", item.Key(), err)
					return nil
				}
				displayID := message.ID.String()[:8]
				table.Append([]string{
					keyRoom.String(),
					strconv.FormatUint(seq, 10),
					message.At.Format("2006-01-02 15:04:05"),
					message.Sender,
					displayID,
					message.Text,
				})
				rows++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	fmt.Printf("%d message(s)\n", rows)
}
