// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package topology

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/cilium/hive/cell"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/cilium/vbridge/pkg/defaults"
	"github.com/cilium/vbridge/pkg/hive"
	"github.com/cilium/vbridge/pkg/kvstore"
	"github.com/cilium/vbridge/pkg/logging"
	"github.com/cilium/vbridge/pkg/mactable"
	"github.com/cilium/vbridge/pkg/topology"
)

// Document is the file format of 'topology apply'. Both YAML and JSON are
// accepted.
type Document struct {
	Ports    []topology.Port    `json:"ports,omitempty"`
	Links    []topology.Link    `json:"links,omitempty"`
	Mappings []topology.Mapping `json:"mappings,omitempty"`
}

func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return Document{}, err
	}
	for _, l := range doc.Links {
		if l.DstNode == "" || l.DstPort == "" {
			return Document{}, fmt.Errorf("link %s has no destination", l.Key())
		}
	}
	for _, m := range doc.Mappings {
		if err := m.VLAN.Validate(); err != nil {
			return Document{}, fmt.Errorf("mapping %s: %w", m.Path, err)
		}
	}
	return doc, nil
}

// Apply publishes every object of doc.
func (doc Document) Apply(ctx context.Context, p *topology.Publisher) error {
	var errs []error
	for _, port := range doc.Ports {
		errs = append(errs, p.PutPort(ctx, port))
	}
	for _, link := range doc.Links {
		errs = append(errs, p.PutLink(ctx, link))
	}
	for _, m := range doc.Mappings {
		errs = append(errs, p.PutMapping(ctx, m))
	}
	return errors.Join(errs...)
}

// client runs fn with a kvstore client configured from the command flags.
type client struct {
	h       *hive.Hive
	backend kvstore.BackendOperations
}

func newClient() *client {
	c := &client{}
	c.h = hive.New(
		kvstore.Cell,
		cell.Invoke(func(b kvstore.BackendOperations) { c.backend = b }),
	)
	return c
}

func (c *client) run(ctx context.Context, fn func(context.Context, kvstore.BackendOperations) error) error {
	log := logging.DefaultSlogLogger
	if err := c.h.Start(log, ctx); err != nil {
		return err
	}
	err := fn(ctx, c.backend)
	return errors.Join(err, c.h.Stop(log, context.Background()))
}

func NewCmd() *cobra.Command {
	c := newClient()

	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Manage the switch topology and the bridge mappings in the kvstore",
	}
	c.h.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		applyCmd(c),
		deleteCmd(c),
		listCmd(c),
	)
	return cmd
}

func applyCmd(c *client) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply -f FILE",
		Short: "Publish the ports, links and mappings of a topology file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			doc, err := ParseDocument(data)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", file, err)
			}
			return c.run(cmd.Context(), func(ctx context.Context, b kvstore.BackendOperations) error {
				return doc.Apply(ctx, topology.NewPublisher(b, defaults.KVStorePrefix))
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Topology file")
	cmd.MarkFlagRequired("file")
	return cmd
}

func deleteCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "delete (port|link) NODE/PORT | delete mapping PATH",
		Short: "Remove a port, link or mapping",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id := args[0], args[1]
			var del func(context.Context, *topology.Publisher) error
			switch kind {
			case "port", "link":
				node, port, ok := strings.Cut(id, "/")
				if !ok || node == "" || port == "" {
					return fmt.Errorf("invalid port %q, expected NODE/PORT", id)
				}
				del = func(ctx context.Context, p *topology.Publisher) error {
					if kind == "port" {
						return p.DeletePort(ctx, mactable.NodeID(node), port)
					}
					return p.DeleteLink(ctx, mactable.NodeID(node), port)
				}
			case "mapping":
				del = func(ctx context.Context, p *topology.Publisher) error {
					return p.DeleteMapping(ctx, mactable.MapPath(id))
				}
			default:
				return fmt.Errorf("unknown kind %q", kind)
			}
			return c.run(cmd.Context(), func(ctx context.Context, b kvstore.BackendOperations) error {
				return del(ctx, topology.NewPublisher(b, defaults.KVStorePrefix))
			})
		},
	}
}

func listCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the published topology",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), func(ctx context.Context, b kvstore.BackendOperations) error {
				pairs, err := b.ListPrefix(ctx, topology.KeyPrefix(defaults.KVStorePrefix))
				if err != nil {
					return err
				}
				doc, err := documentFromPairs(pairs)
				if err != nil {
					return err
				}
				return doc.Print(cmd.OutOrStdout())
			})
		},
	}
}

func documentFromPairs(pairs kvstore.KeyValuePairs) (Document, error) {
	var doc Document
	for key, v := range pairs {
		kind, _, _ := strings.Cut(strings.TrimPrefix(key, topology.KeyPrefix(defaults.KVStorePrefix)), "/")
		var err error
		switch kind {
		case "ports":
			var p topology.Port
			if err = yaml.Unmarshal(v.Data, &p); err == nil {
				doc.Ports = append(doc.Ports, p)
			}
		case "links":
			var l topology.Link
			if err = yaml.Unmarshal(v.Data, &l); err == nil {
				doc.Links = append(doc.Links, l)
			}
		case "mappings":
			var m topology.Mapping
			if err = yaml.Unmarshal(v.Data, &m); err == nil {
				doc.Mappings = append(doc.Mappings, m)
			}
		}
		if err != nil {
			return Document{}, fmt.Errorf("decoding %s: %w", key, err)
		}
	}
	return doc, nil
}

type tableRower interface {
	TableHeader() []string
	TableRow() []string
}

func printTable[Obj tableRower](w io.Writer, objs []Obj) {
	if len(objs) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 5, 0, 3, ' ', 0)
	fmt.Fprintln(tw, strings.Join(objs[0].TableHeader(), "\t"))
	for _, obj := range objs {
		fmt.Fprintln(tw, strings.Join(obj.TableRow(), "\t"))
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func (doc Document) sort() {
	slices.SortFunc(doc.Ports, func(a, b topology.Port) int { return strings.Compare(a.Key(), b.Key()) })
	slices.SortFunc(doc.Links, func(a, b topology.Link) int { return strings.Compare(a.Key(), b.Key()) })
	slices.SortFunc(doc.Mappings, func(a, b topology.Mapping) int { return strings.Compare(string(a.Path), string(b.Path)) })
}

// Print writes the objects of doc as tables, sorted by key.
func (doc Document) Print(w io.Writer) error {
	doc.sort()
	printTable(w, doc.Ports)
	printTable(w, doc.Links)
	printTable(w, doc.Mappings)
	return nil
}
