package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kavach/kavach/internal/backend"
)

// contactsCmd represents the contacts command
var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage emergency contacts",
	Long: `Lists the emergency contacts the backend alerts on an SOS dispatch.
Use the add and remove subcommands to change the list.`,
	Args: cobra.NoArgs,
	RunE: runContactsList,
}

// contactsAddCmd represents the contacts add command
var contactsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an emergency contact",
	Args:  cobra.NoArgs,
	RunE:  runContactsAdd,
}

// contactsRemoveCmd represents the contacts remove command
var contactsRemoveCmd = &cobra.Command{
	Use:   "remove <contact-id>",
	Short: "Remove an emergency contact",
	Args:  cobra.ExactArgs(1),
	RunE:  runContactsRemove,
}

var (
	contactName  string
	contactPhone string
	contactEmail string
)

func init() {
	contactsAddCmd.Flags().StringVar(&contactName, "name", "", "Contact name")
	contactsAddCmd.Flags().StringVar(&contactPhone, "phone", "", "Contact phone number")
	contactsAddCmd.Flags().StringVar(&contactEmail, "email", "", "Contact email")
	contactsAddCmd.MarkFlagRequired("name")
	contactsAddCmd.MarkFlagRequired("phone")

	contactsCmd.AddCommand(contactsAddCmd)
	contactsCmd.AddCommand(contactsRemoveCmd)
}

func runContactsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	cmd.SilenceUsage = true

	list, err := a.backend.Contacts(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPHONE\tEMAIL")
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Phone, c.Email)
	}
	w.Flush()
	fmt.Printf("%d contact(s)\n", len(list))
	return nil
}

func runContactsAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	cmd.SilenceUsage = true

	created, err := a.backend.CreateContact(cmd.Context(), backend.Contact{
		Name:  contactName,
		Phone: contactPhone,
		Email: contactEmail,
	})
	if err != nil {
		return err
	}
	color.Green("Contact added: %s (%s)", created.Name, created.ID)
	return nil
}

func runContactsRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	cmd.SilenceUsage = true

	if err := a.backend.DeleteContact(cmd.Context(), args[0]); err != nil {
		return err
	}
	color.Green("Contact removed.")
	return nil
}
