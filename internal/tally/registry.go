package tally

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrInvalidTag is returned when a selector or tag is not declared by the
	// active registry. The action is dropped and no event is recorded.
	ErrInvalidTag = errors.New("invalid tag")

	// ErrUnknownRegistry is returned when a registry name or version is not known.
	ErrUnknownRegistry = errors.New("unknown tag registry")
)

// TagKind distinguishes the two shapes a Tag can take.
type TagKind uint8

const (
	// KindDirection is a single direction at an intersection (pedestrian counting).
	KindDirection TagKind = iota + 1
	// KindVehicle is a (class, subclass, direction) triple (vehicle counting).
	KindVehicle
)

// RegistryName returns the name of the registry that declares tags of kind k.
func (k TagKind) RegistryName() string {
	switch k {
	case KindDirection:
		return PedestrianName
	case KindVehicle:
		return VehicleName
	default:
		return ""
	}
}

// Tag identifies a countable category. It is comparable and used directly as a map key.
type Tag struct {
	Kind TagKind

	// Key is the selector the tag resolves from ("1", "2/Sedan/North").
	Key string

	Direction string

	// Intersection is set for KindDirection tags.
	Intersection string

	// Class and Subclass are set for KindVehicle tags.
	Class    int
	Subclass string
}

// Column returns the CSV column header for the tag.
func (t Tag) Column() string {
	if t.Kind == KindVehicle {
		return fmt.Sprintf("Class %d %s %s", t.Class, t.Subclass, t.Direction)
	}
	return t.Key
}

// Label returns a human readable name.
func (t Tag) Label() string {
	if t.Kind == KindVehicle {
		return fmt.Sprintf("Class %d %s %s", t.Class, t.Subclass, t.Direction)
	}
	return fmt.Sprintf("%s (%s intersection)", t.Direction, t.Intersection)
}

func (t Tag) String() string { return t.Key }

// Registry resolves input selectors to tags and declares the fixed, ordered set of
// tags that make up the export columns.
type Registry interface {
	// Name is the short registry name ("pedestrian", "vehicle").
	Name() string
	// Version identifies the declared tag set in persisted state.
	Version() string
	// Resolve maps a selector to its tag, or returns ErrInvalidTag.
	Resolve(selector string) (Tag, error)
	// Contains reports whether tag is declared by the registry.
	Contains(tag Tag) bool
	// Tags returns the declared tags in column order.
	Tags() []Tag
}

// table is the one Registry implementation; the pedestrian and vehicle
// registries differ only in the rows they declare and in how selectors are normalized.
type table struct {
	name      string
	version   string
	tags      []Tag
	index     map[string]Tag
	normalize func(string) string
}

func newTable(name, version string, tags []Tag, normalize func(string) string) *table {
	t := &table{
		name:      name,
		version:   version,
		tags:      tags,
		index:     make(map[string]Tag, len(tags)),
		normalize: normalize,
	}
	for _, tag := range tags {
		t.index[tag.Key] = tag
	}
	return t
}

func (t *table) Name() string    { return t.name }
func (t *table) Version() string { return t.version }

func (t *table) Resolve(selector string) (Tag, error) {
	key := selector
	if t.normalize != nil {
		key = t.normalize(selector)
	}
	tag, ok := t.index[key]
	if !ok {
		return Tag{}, fmt.Errorf("%w: %q not in %s registry", ErrInvalidTag, selector, t.name)
	}
	return tag, nil
}

func (t *table) Contains(tag Tag) bool {
	declared, ok := t.index[tag.Key]
	return ok && declared == tag
}

func (t *table) Tags() []Tag {
	out := make([]Tag, len(t.tags))
	copy(out, t.tags)
	return out
}

// Registry names and versions.
const (
	PedestrianName    = "pedestrian"
	PedestrianVersion = "pedestrian/v1"
	VehicleName       = "vehicle"
	VehicleVersion    = "vehicle/v1"
)

var pedestrianRows = []struct {
	key, direction, intersection string
}{
	{"1", "Eastbound", "North"},
	{"2", "Westbound", "North"},
	{"3", "Eastbound", "South"},
	{"4", "Westbound", "South"},
	{"5", "Northbound", "East"},
	{"6", "Southbound", "East"},
	{"7", "Northbound", "West"},
	{"8", "Southbound", "West"},
}

// NewPedestrianRegistry returns the 8-key direction registry used for pedestrian counting.
func NewPedestrianRegistry() Registry {
	tags := make([]Tag, 0, len(pedestrianRows))
	for _, r := range pedestrianRows {
		tags = append(tags, Tag{
			Kind:         KindDirection,
			Key:          r.key,
			Direction:    r.direction,
			Intersection: r.intersection,
		})
	}
	return newTable(PedestrianName, PedestrianVersion, tags, strings.TrimSpace)
}

// VehicleClass is a main vehicle class with its subclasses.
type VehicleClass struct {
	ID         int
	Name       string
	Subclasses []string
}

// VehicleClasses lists the vehicle classification in declaration order.
var VehicleClasses = []VehicleClass{
	{ID: 1, Name: "Motorcycles", Subclasses: []string{"Standard Motorcycle", "Scooter"}},
	{ID: 2, Name: "Passenger Cars", Subclasses: []string{"Sedan", "SUV", "Pickup Truck", "Van"}},
	{ID: 3, Name: "Four Tire, Single Unit", Subclasses: []string{"Light Truck", "Large Van"}},
	{ID: 4, Name: "Buses", Subclasses: []string{"School Bus", "Transit Bus", "Coach Bus"}},
	{ID: 5, Name: "Two Axle, Six Tire, Single Unit", Subclasses: []string{"Medium Truck", "Large Pickup"}},
	{ID: 6, Name: "Three Axle, Single Unit", Subclasses: []string{"Large Single Unit"}},
}

// VehicleDirections are the travel directions a vehicle can be tagged with.
var VehicleDirections = []string{"North", "South", "East", "West"}

// VehicleSelector builds the selector string for a vehicle tag.
func VehicleSelector(class int, subclass, direction string) string {
	return strconv.Itoa(class) + "/" + subclass + "/" + direction
}

// NewVehicleRegistry returns the class/subclass/direction registry used for vehicle counting.
func NewVehicleRegistry() Registry {
	var tags []Tag
	for _, c := range VehicleClasses {
		for _, sub := range c.Subclasses {
			for _, dir := range VehicleDirections {
				tags = append(tags, Tag{
					Kind:      KindVehicle,
					Key:       VehicleSelector(c.ID, sub, dir),
					Direction: dir,
					Class:     c.ID,
					Subclass:  sub,
				})
			}
		}
	}
	return newTable(VehicleName, VehicleVersion, tags, normalizeVehicleSelector)
}

// normalizeVehicleSelector trims whitespace around each "/"-separated part.
func normalizeVehicleSelector(s string) string {
	parts := strings.Split(s, "/")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, "/")
}

var registries = map[string]func() Registry{
	PedestrianName: NewPedestrianRegistry,
	VehicleName:    NewVehicleRegistry,
}

var registryVersions = map[string]string{
	PedestrianVersion: PedestrianName,
	VehicleVersion:    VehicleName,
}

// RegistryByName returns a fresh registry for "pedestrian" or "vehicle".
func RegistryByName(name string) (Registry, error) {
	ctor, ok := registries[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegistry, name)
	}
	return ctor(), nil
}

// RegistryForVersion returns the registry that persisted state with version was written against.
func RegistryForVersion(version string) (Registry, error) {
	name, ok := registryVersions[version]
	if !ok {
		return nil, fmt.Errorf("%w: version %q", ErrUnknownRegistry, version)
	}
	return RegistryByName(name)
}

// RegistryNames lists known registry names, sorted.
func RegistryNames() []string {
	names := make([]string, 0, len(registries))
	for n := range registries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
