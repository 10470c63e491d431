// Package testing provides helpers for running pipelines against local infrastructure
package testing

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigtable"
	"cloud.google.com/go/bigtable/bttest"
	"github.com/go-sif/sluice"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Emulated Bigtable project and instance
const (
	Project  = "sluice-test"
	Instance = "sluice-test"
)

// LocalRun builds a pipeline with build and runs it to completion. Panics raised while
// building are returned as errors.
func LocalRun(ctx context.Context, name string, opts *sluice.Options, build func(p *sluice.Pipeline) error) (result *sluice.Result, err error) {
	p, err := sluice.NewPipeline(name, opts)
	if err != nil {
		return nil, err
	}
	// handle panics
	defer func() {
		if r := recover(); r != nil {
			if anErr, ok := r.(error); ok {
				err = anErr
			} else {
				err = fmt.Errorf("panic while building %s: %v", name, r)
			}
			_, _ = p.Done(ctx)
		}
	}()
	if err := build(p); err != nil {
		_, _ = p.Done(ctx)
		return nil, err
	}
	return p.Done(ctx)
}

// Bigtable is an in-memory Bigtable server with a connected client
type Bigtable struct {
	Client *bigtable.Client
	server *bttest.Server
}

// LocalBigtable starts an in-memory Bigtable server and creates tables, each with its column families
func LocalBigtable(ctx context.Context, tables map[string][]string) (*Bigtable, error) {
	srv, err := bttest.NewServer("localhost:0")
	if err != nil {
		return nil, err
	}
	bt := &Bigtable{server: srv}
	if err := bt.createTables(ctx, tables); err != nil {
		srv.Close()
		return nil, err
	}
	conn, err := dial(srv.Addr)
	if err != nil {
		srv.Close()
		return nil, err
	}
	bt.Client, err = bigtable.NewClient(ctx, Project, Instance, option.WithGRPCConn(conn))
	if err != nil {
		conn.Close()
		srv.Close()
		return nil, err
	}
	return bt, nil
}

func (bt *Bigtable) createTables(ctx context.Context, tables map[string][]string) error {
	conn, err := dial(bt.server.Addr)
	if err != nil {
		return err
	}
	admin, err := bigtable.NewAdminClient(ctx, Project, Instance, option.WithGRPCConn(conn))
	if err != nil {
		conn.Close()
		return err
	}
	defer admin.Close()
	for table, families := range tables {
		if err := admin.CreateTable(ctx, table); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
		for _, family := range families {
			if err := admin.CreateColumnFamily(ctx, table, family); err != nil {
				return fmt.Errorf("create column family %s:%s: %w", table, family, err)
			}
		}
	}
	return nil
}

// Close disconnects the client and stops the server
func (bt *Bigtable) Close() error {
	defer bt.server.Close()
	return bt.Client.Close()
}

func dial(addr string) (*grpc.ClientConn, error) {
	return grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}
