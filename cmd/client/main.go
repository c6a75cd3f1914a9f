package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/pkg/model"
)

// serverURL is the address of the contacts proxy, set by the --url flag.
var serverURL string

// Usage examples on the command line:
// > go run . create --firstname Ana --lastname Lopez --email ana@example.com
// > go run . list --limit 50
// > go run . delete --email ana@example.com
// > go run . bench
func main() {
	root := &cobra.Command{
		Use:           "client",
		Short:         "Command line client for the HubSpot contacts proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "url", "http://localhost:8080", "address of the contacts proxy")
	root.AddCommand(createCommand(), listCommand(), getCommand(), searchCommand(), deleteCommand(), benchCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func createCommand() *cobra.Command {
	var input model.ContactInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a contact, or update the names of the contact with the same email",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(input)
			if err != nil {
				return err
			}
			var result model.CreateResult
			if _, err := call(http.MethodPost, "/api/contacts", nil, body, &result); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", result.Status, result.Id)
			return nil
		},
	}
	cmd.Flags().StringVar(&input.FirstName, "firstname", "", "first name")
	cmd.Flags().StringVar(&input.LastName, "lastname", "", "last name")
	cmd.Flags().StringVar(&input.Email, "email", "", "email address")
	cmd.MarkFlagRequired("email")
	return cmd
}

func listCommand() *cobra.Command {
	var limit int
	var after, properties string
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contacts page by page",
		RunE: func(cmd *cobra.Command, args []string) error {
			for {
				query := url.Values{}
				query.Set("limit", strconv.Itoa(limit))
				query.Set("properties", properties)
				if after != "" {
					query.Set("after", after)
				}
				var page model.Page
				if _, err := call(http.MethodGet, "/api/contacts", query, nil, &page); err != nil {
					return err
				}
				for _, contact := range page.Results {
					printContact(contact)
				}
				if page.Paging == nil || page.Paging.Next == nil {
					return nil
				}
				after = page.Paging.Next.After
				if !all {
					fmt.Printf("next page: --after %s\n", after)
					return nil
				}
			}
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size between 1 and 100")
	cmd.Flags().StringVar(&after, "after", "", "cursor of the page to start with")
	cmd.Flags().StringVar(&properties, "properties", "email,firstname,lastname", "properties to show")
	cmd.Flags().BoolVar(&all, "all", false, "follow the cursor until the last page")
	return cmd
}

func getCommand() *cobra.Command {
	var properties string
	cmd := &cobra.Command{
		Use:   "get ID",
		Short: "Show a single contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			query.Set("properties", properties)
			var contact model.Contact
			if _, err := call(http.MethodGet, "/api/contacts/"+url.PathEscape(args[0]), query, nil, &contact); err != nil {
				return err
			}
			printContact(contact)
			return nil
		},
	}
	cmd.Flags().StringVar(&properties, "properties", "email,firstname,lastname", "properties to show")
	return cmd
}

func searchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search EMAIL",
		Short: "Find contacts by exact email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			query.Set("email", args[0])
			var result model.SearchResult
			if _, err := call(http.MethodGet, "/api/contacts/search", query, nil, &result); err != nil {
				return err
			}
			fmt.Printf("%d match(es)\n", result.Total)
			for _, contact := range result.Results {
				printContact(contact)
			}
			return nil
		},
	}
}

func deleteCommand() *cobra.Command {
	var id, email string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a contact by id or by email",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result model.DeleteResult
			var err error
			switch {
			case id != "" && email != "":
				return fmt.Errorf("use either --id or --email")
			case id != "":
				_, err = call(http.MethodDelete, "/api/contacts/"+url.PathEscape(id), nil, nil, &result)
			case email != "":
				query := url.Values{}
				query.Set("email", email)
				_, err = call(http.MethodDelete, "/api/contacts/by-email", query, nil, &result)
			default:
				return fmt.Errorf("one of --id or --email is required")
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", result.Status, result.Id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "HubSpot id of the contact")
	cmd.Flags().StringVar(&email, "email", "", "email of the contact")
	return cmd
}

func printContact(contact model.Contact) {
	fmt.Printf("%-12s %-30s %s %s\n", contact.Id,
		contact.Properties["email"], contact.Properties["firstname"], contact.Properties["lastname"])
}

// call sends one request to the proxy and decodes the JSON answer into out. It returns the
// duration of the round trip in nanoseconds.
func call(method string, path string, query url.Values, body []byte, out any) (int64, error) {
	requestURL := serverURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, requestURL, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("could not create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	before := time.Now().UnixNano()
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("error making http request: %w", err)
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, fmt.Errorf("could not read response body: %w", err)
	}
	after := time.Now().UnixNano()
	if res.StatusCode >= http.StatusBadRequest {
		var errBody model.ErrorResponse
		if json.Unmarshal(resBody, &errBody) == nil && errBody.Message != "" {
			return after - before, fmt.Errorf("%s: %s", res.Status, errBody.Message)
		}
		return after - before, fmt.Errorf("%s", res.Status)
	}
	if out != nil {
		if err := json.Unmarshal(resBody, out); err != nil {
			return after - before, fmt.Errorf("could not unmarshal JSON: %w", err)
		}
	}
	return after - before, nil
}
