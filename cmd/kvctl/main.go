package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkaminski/kvstore/internal/protocol"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr string
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "kvctl",
		Short: "kvctl talks to a kvstore node over its wire protocol",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:7070", "host:port of the node to connect to")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "connection and round-trip timeout")

	root.AddCommand(
		newPutCmd(&addr, &timeout),
		newBatchPutCmd(&addr, &timeout),
		newReadCmd(&addr, &timeout),
		newReadRangeCmd(&addr, &timeout),
		newDeleteCmd(&addr, &timeout),
		newAdminCmd(&addr, &timeout),
	)
	return root
}

// sendLine opens a short-lived connection, writes line, and returns the
// whole response (without its trailing newlines), including every line of
// a multi-line READRANGE or ADMIN STATUS response.
func sendLine(addr string, timeout time.Duration, line string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return "", fmt.Errorf("write request: %w", err)
	}

	// Half-close so the server ends the connection after its response.
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.CloseWrite()
	}
	response, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return strings.TrimRight(string(response), "\r\n"), nil
}

func newPutCmd(addr *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "store a key/value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := fmt.Sprintf("PUT %s %s", escapeArg(args[0]), escapeArg(args[1]))
			response, err := sendLine(*addr, *timeout, line)
			if err != nil {
				return err
			}
			fmt.Println(response)
			return nil
		},
	}
}

func newBatchPutCmd(addr *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "batchput <k1,k2,...> <v1,v2,...>",
		Short: "store N key/value pairs as one unit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := fmt.Sprintf("BATCHPUT %s %s", args[0], args[1])
			response, err := sendLine(*addr, *timeout, line)
			if err != nil {
				return err
			}
			fmt.Println(response)
			return nil
		},
	}
}

func newReadCmd(addr *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "read <key>",
		Short: "read a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := fmt.Sprintf("READ %s", escapeArg(args[0]))
			response, err := sendLine(*addr, *timeout, line)
			if err != nil {
				return err
			}
			fmt.Println(response)
			return nil
		},
	}
}

func newReadRangeCmd(addr *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "readrange <start> <end>",
		Short: "read every key in the closed interval [start, end]",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := fmt.Sprintf("READRANGE %s %s", escapeArg(args[0]), escapeArg(args[1]))
			response, err := sendLine(*addr, *timeout, line)
			if err != nil {
				return err
			}
			fmt.Println(response)
			return nil
		},
	}
}

func newDeleteCmd(addr *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := fmt.Sprintf("DELETE %s", escapeArg(args[0]))
			response, err := sendLine(*addr, *timeout, line)
			if err != nil {
				return err
			}
			fmt.Println(response)
			return nil
		},
	}
}

func newAdminCmd(addr *string, timeout *time.Duration) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "manage a master node's replica set",
	}

	admin.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "show replica health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			response, err := sendLine(*addr, *timeout, "ADMIN STATUS")
			if err != nil {
				return err
			}
			fmt.Println(response)
			return nil
		},
	})

	admin.AddCommand(&cobra.Command{
		Use:   "add-replica <host:port>",
		Short: "register a replica, or reset its health if already registered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			response, err := sendLine(*addr, *timeout, "ADMIN ADDREPLICA "+args[0])
			if err != nil {
				return err
			}
			fmt.Println(response)
			return nil
		},
	})

	admin.AddCommand(&cobra.Command{
		Use:   "remove-replica <host:port>",
		Short: "unregister a replica",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			response, err := sendLine(*addr, *timeout, "ADMIN REMOVEREPLICA "+args[0])
			if err != nil {
				return err
			}
			fmt.Println(response)
			return nil
		},
	})

	return admin
}

func escapeArg(s string) string {
	return string(protocol.Escape([]byte(s)))
}
