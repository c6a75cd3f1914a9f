package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/pkg/model"
)

func benchCommand() *cobra.Command {
	var sizes []int
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure the average latency of the contact endpoints in microseconds",
		Long: "Creates the given numbers of contacts, then updates, reads, searches and deletes them " +
			"in random order. Every call goes through to HubSpot, so mind the API rate limits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println()
			fmt.Println("  Elements      POST    UPDATE       GET    SEARCH    DELETE ")
			fmt.Println("-------------------------------------------------------------")
			for _, loops := range sizes {
				if err := benchRound(loops); err != nil {
					return err
				}
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&sizes, "sizes", []int{10, 50, 100}, "numbers of contacts per round")
	return cmd
}

// benchRound runs one line of the benchmark table with the given number of contacts.
func benchRound(loops int) error {
	if loops < 1 {
		return fmt.Errorf("invalid round size %d", loops)
	}
	run := uuid.NewString()[:8]
	contacts := make([]model.ContactInput, 0, loops)
	for i := 0; i < loops; i++ {
		contacts = append(contacts, model.ContactInput{
			FirstName: "Marcus",
			LastName:  "Antonius",
			Email:     fmt.Sprintf("bench-%s-%d@example.com", run, i),
		})
	}
	fmt.Printf("%10d", loops)

	ids := make([]string, 0, loops)
	{
		// POST requests creating new contacts
		var duration int64
		for _, contact := range contacts {
			var result model.CreateResult
			d, err := postContact(contact, &result)
			if err != nil {
				return err
			}
			ids = append(ids, result.Id)
			duration += d
		}
		fmt.Printf("%10d", duration/int64(loops*1000))
	}
	{
		// POST requests running into the duplicate email and updating
		var duration int64
		for _, i := range rand.Perm(loops) {
			contact := contacts[i]
			contact.LastName = "Triumvir"
			d, err := postContact(contact, nil)
			if err != nil {
				return err
			}
			duration += d
		}
		fmt.Printf("%10d", duration/int64(loops*1000))
	}
	{
		// GET requests
		var duration int64
		for _, i := range rand.Perm(loops) {
			d, err := call(http.MethodGet, "/api/contacts/"+url.PathEscape(ids[i]), nil, nil, nil)
			if err != nil {
				return err
			}
			duration += d
		}
		fmt.Printf("%10d", duration/int64(loops*1000))
	}
	{
		// search requests
		var duration int64
		for _, i := range rand.Perm(loops) {
			query := url.Values{}
			query.Set("email", contacts[i].Email)
			d, err := call(http.MethodGet, "/api/contacts/search", query, nil, nil)
			if err != nil {
				return err
			}
			duration += d
		}
		fmt.Printf("%10d", duration/int64(loops*1000))
	}
	{
		// DELETE requests
		var duration int64
		for _, i := range rand.Perm(loops) {
			d, err := call(http.MethodDelete, "/api/contacts/"+url.PathEscape(ids[i]), nil, nil, nil)
			if err != nil {
				return err
			}
			duration += d
		}
		fmt.Printf("%10d", duration/int64(loops*1000))
	}
	return nil
}

func postContact(contact model.ContactInput, out *model.CreateResult) (int64, error) {
	body, err := json.Marshal(contact)
	if err != nil {
		return 0, err
	}
	if out == nil {
		return call(http.MethodPost, "/api/contacts", nil, body, nil)
	}
	return call(http.MethodPost, "/api/contacts", nil, body, out)
}
