package changes

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// GitSource diffs two revisions of a local repository
type GitSource struct {
	RepoPath string
	Base     string
	Head     string
	// MergeBase diffs from the merge base of Base and Head instead of Base itself.
	MergeBase bool
}

var _ Source = GitSource{}

// Capture implements Source. Renamed files contribute both their old and new path.
func (g GitSource) Capture(ctx context.Context) (types.ChangeSet, error) {
	head := g.Head
	if head == "" {
		head = "HEAD"
	}
	if g.Base == "" {
		return types.ChangeSet{}, fmt.Errorf("git base revision is required")
	}

	repo, err := git.PlainOpenWithOptions(g.RepoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return types.ChangeSet{}, fmt.Errorf("opening repository %s: %w", g.RepoPath, err)
	}

	baseCommit, err := resolveCommit(repo, g.Base)
	if err != nil {
		return types.ChangeSet{}, err
	}
	headCommit, err := resolveCommit(repo, head)
	if err != nil {
		return types.ChangeSet{}, err
	}

	if g.MergeBase {
		bases, err := headCommit.MergeBase(baseCommit)
		if err != nil {
			return types.ChangeSet{}, fmt.Errorf("computing merge base: %w", err)
		}
		if len(bases) == 0 {
			return types.ChangeSet{}, fmt.Errorf("no merge base between %s and %s", g.Base, head)
		}
		baseCommit = bases[0]
	}

	if err := ctx.Err(); err != nil {
		return types.ChangeSet{}, err
	}

	baseTree, err := baseCommit.Tree()
	if err != nil {
		return types.ChangeSet{}, fmt.Errorf("reading tree of %s: %w", g.Base, err)
	}
	headTree, err := headCommit.Tree()
	if err != nil {
		return types.ChangeSet{}, fmt.Errorf("reading tree of %s: %w", head, err)
	}

	diff, err := object.DiffTreeWithOptions(ctx, baseTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return types.ChangeSet{}, fmt.Errorf("diffing %s..%s: %w", g.Base, head, err)
	}

	var paths []string
	for _, change := range diff {
		if change.From.Name != "" {
			paths = append(paths, change.From.Name)
		}
		if change.To.Name != "" && change.To.Name != change.From.Name {
			paths = append(paths, change.To.Name)
		}
	}

	return types.NewChangeSet(paths, baseCommit.Hash.String(), headCommit.Hash.String()), nil
}

func resolveCommit(repo *git.Repository, rev string) (*object.Commit, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolving revision %q: %w", rev, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("loading commit %s: %w", hash, err)
	}
	return commit, nil
}
