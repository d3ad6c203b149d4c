//go:build e2e

package e2e

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"

	"github.com/docker/docker/api/types/build"
	"github.com/testcontainers/testcontainers-go"
)

var skipBuild = flag.Bool("e2e.skip-build", false, "use an existing "+ImageName+" instead of building it")

func TestMain(m *testing.M) {
	flag.Parse()
	if !*skipBuild {
		if err := buildDebugImage(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "building %s: %v\n", ImageName, err)
			os.Exit(1)
		}
	}
	os.Exit(m.Run())
}

// buildDebugImage builds the debug stage of the Dockerfile at the project
// root and keeps it for every test of the run.
func buildDebugImage(ctx context.Context) error {
	root, err := findRoot()
	if err != nil {
		return err
	}
	fmt.Printf("building %s from %s\n", ImageName, root)
	builder, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			FromDockerfile: testcontainers.FromDockerfile{
				Context:       root,
				Dockerfile:    "Dockerfile",
				Repo:          "nhdpd-debug",
				Tag:           "latest",
				KeepImage:     true,
				PrintBuildLog: testing.Verbose(),
				BuildOptionsModifier: func(opts *build.ImageBuildOptions) {
					opts.Target = "debug"
				},
			},
		},
	})
	if err != nil {
		return err
	}
	return builder.Terminate(ctx)
}
