// Package region resolves places and bounding boxes into regions.
package region

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/mgci/internal/model"
)

// Provider turns user input into regions.
type Provider interface {
	// Resolve returns the region named by query: a bounding box, a region
	// ID or a region name. It fails with model.ErrRegionNotFound.
	Resolve(ctx context.Context, query string) (model.Region, error)
	// Children returns the subregions of parent, ordered by ID.
	Children(ctx context.Context, parent model.Region) ([]model.Region, error)
	// List returns the catalog entries at level, or all when level < 0.
	List(ctx context.Context, level int) ([]model.Region, error)
}

// Catalog is an in-memory Provider over a fixed set of regions.
type Catalog struct {
	regions []model.Region
	byID    map[string]int
	byName  map[string][]int
}

var _ Provider = (*Catalog)(nil)

// NewCatalog indexes regions. IDs must be unique.
func NewCatalog(regions []model.Region) (*Catalog, error) {
	c := &Catalog{
		regions: make([]model.Region, 0, len(regions)),
		byID:    make(map[string]int, len(regions)),
		byName:  make(map[string][]int, len(regions)),
	}
	for _, r := range regions {
		if _, dup := c.byID[r.ID]; dup {
			return nil, eris.Errorf("region: duplicate id %q", r.ID)
		}
		i := len(c.regions)
		c.regions = append(c.regions, r)
		c.byID[r.ID] = i
		key := Fold(r.Name)
		c.byName[key] = append(c.byName[key], i)
	}
	return c, nil
}

// Len returns the number of regions in the catalog.
func (c *Catalog) Len() int { return len(c.regions) }

// Resolve implements Provider. Bounding boxes never touch the catalog. IDs
// match exactly before names are compared folded; of several regions sharing
// a name the one with the lowest level wins.
func (c *Catalog) Resolve(_ context.Context, query string) (model.Region, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return model.Region{}, eris.Wrap(model.ErrRegionNotFound, "region: empty query")
	}
	if b, ok, err := ParseBBoxQuery(q); ok {
		if err != nil {
			return model.Region{}, err
		}
		return model.BBoxRegion(b), nil
	}
	if i, ok := c.byID[q]; ok {
		return c.regions[i], nil
	}
	matches := c.byName[Fold(q)]
	if len(matches) == 0 {
		return model.Region{}, eris.Wrapf(model.ErrRegionNotFound, "region: %q", q)
	}
	best := matches[0]
	for _, i := range matches[1:] {
		if c.regions[i].Level < c.regions[best].Level {
			best = i
		}
	}
	return c.regions[best], nil
}

// Children implements Provider. Regions that name parent as their parent
// win; otherwise deeper regions whose bounds intersect the parent's are
// returned.
func (c *Catalog) Children(_ context.Context, parent model.Region) ([]model.Region, error) {
	var linked, overlapping []model.Region
	pb := parent.BBox()
	for _, r := range c.regions {
		if r.ID == parent.ID {
			continue
		}
		if parent.ID != "" && r.Parent == parent.ID {
			linked = append(linked, r)
			continue
		}
		if r.Parent == "" && r.Level > parent.Level && r.BBox().Intersects(pb) {
			overlapping = append(overlapping, r)
		}
	}
	out := linked
	if len(out) == 0 {
		out = overlapping
	}
	sortByID(out)
	return out, nil
}

// List implements Provider.
func (c *Catalog) List(_ context.Context, level int) ([]model.Region, error) {
	var out []model.Region
	for _, r := range c.regions {
		if level < 0 || r.Level == level {
			out = append(out, r)
		}
	}
	sortByID(out)
	return out, nil
}

func sortByID(rs []model.Region) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}

// ParseBBoxQuery recognises "bbox:minLon,minLat,maxLon,maxLat" and four bare
// comma-separated numbers. ok is false when query is not box-shaped.
func ParseBBoxQuery(query string) (b model.BBox, ok bool, err error) {
	q := strings.TrimSpace(query)
	if rest, found := strings.CutPrefix(strings.ToLower(q), "bbox:"); found {
		b, err = model.ParseBBox(rest)
		return b, true, err
	}
	if strings.Count(q, ",") != 3 {
		return model.BBox{}, false, nil
	}
	for _, r := range q {
		if !unicode.IsDigit(r) && !strings.ContainsRune(",.-+ eE", r) {
			return model.BBox{}, false, nil
		}
	}
	b, err = model.ParseBBox(q)
	return b, true, err
}

// Fold normalises a name for comparison: accents stripped, case folded,
// surrounding space trimmed.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	out, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return strings.Join(strings.Fields(out), " ")
}
