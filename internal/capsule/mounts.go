package capsule

import "fmt"

// builtMount is a mount layer ready to be written alongside its descriptor.
type builtMount struct {
	layer Layer
	zip   []byte
}

// buildMounts delegates each declared mount to the directory or git layer
// builder and records its sha256 and target (spec §4.4 step 4). Layer IDs
// are "mount0", "mount1", ... in declaration order so manifests are stable.
func buildMounts(specs []MountSpec) ([]builtMount, error) {
	out := make([]builtMount, 0, len(specs))
	for i, spec := range specs {
		var (
			zipData []byte
			sha     string
			err     error
		)
		switch spec.Type {
		case "directory":
			zipData, sha, err = buildDirectoryMountLayer(spec.Source)
		case "git":
			zipData, sha, err = buildGitMountLayer(spec.Source, spec.GitRef)
		default:
			return nil, fmt.Errorf("capsule: unknown mount type %q", spec.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("capsule: build mount %d (%s): %w", i, spec.Target, err)
		}
		id := fmt.Sprintf("mount%d", i)
		out = append(out, builtMount{
			layer: Layer{ID: id, SHA256: sha, Path: fmt.Sprintf("fs.%s.zip", id), Target: spec.Target},
			zip:   zipData,
		})
	}
	return out, nil
}
