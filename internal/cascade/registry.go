package cascade

import (
	"fmt"
	"regexp"
)

// Link declares a hasMany/hasOne relation from a parent entity to a
// child table. ForeignKey may be left empty when the child entity's own
// descriptor declares the inverse relation via Parents.
type Link struct {
	Name       string
	Table      string
	ForeignKey string
}

// ParentRef declares the inverse side of a link: which column on this
// entity's table points at which parent entity.
type ParentRef struct {
	Entity string
	Column string
}

// Junction names a join table to purge by column when the owning entity
// is deleted. Junction deletes tolerate missing tables.
type Junction struct {
	Table  string
	Column string
}

// Descriptor declares the cascade shape for one entity type.
type Descriptor struct {
	Entity         string
	Table          string
	Links          []Link
	Parents        []ParentRef
	JunctionTables []Junction
}

type resolvedLink struct {
	name        string
	table       string
	foreignKey  string
	childEntity string // empty when the child table has no descriptor
}

type resolvedDescriptor struct {
	entity    string
	table     string
	links     []resolvedLink
	junctions []Junction
}

// Registry holds validated cascade descriptors. All foreign keys are
// resolved up front so a delete never has to guess column names at
// runtime.
type Registry struct {
	descriptors map[string]*resolvedDescriptor
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// NewRegistry validates the descriptors and resolves every link's
// foreign key. Resolution order: explicit ForeignKey on the link, then
// the child descriptor's matching ParentRef, then the <entity>_id
// convention for tables with no descriptor of their own. A registered
// child that declares no parent ref and has no explicit key is a
// configuration error.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	byEntity := make(map[string]Descriptor, len(descriptors))
	byTable := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		if d.Entity == "" {
			return nil, fmt.Errorf("cascade descriptor missing entity name")
		}
		if err := validIdent(d.Table); err != nil {
			return nil, fmt.Errorf("cascade descriptor %q: %w", d.Entity, err)
		}
		if _, dup := byEntity[d.Entity]; dup {
			return nil, fmt.Errorf("duplicate cascade descriptor for %q", d.Entity)
		}
		byEntity[d.Entity] = d
		byTable[d.Table] = d
	}

	r := &Registry{descriptors: make(map[string]*resolvedDescriptor, len(descriptors))}
	for _, d := range descriptors {
		resolved := &resolvedDescriptor{entity: d.Entity, table: d.Table}

		for _, link := range d.Links {
			if err := validIdent(link.Table); err != nil {
				return nil, fmt.Errorf("cascade link %s.%s: %w", d.Entity, link.Name, err)
			}

			fk := link.ForeignKey
			childEntity := ""
			if child, ok := byTable[link.Table]; ok {
				childEntity = child.Entity
				if fk == "" {
					fk = parentColumn(child, d.Entity)
				}
				if fk == "" {
					return nil, fmt.Errorf("cascade link %s.%s: child %q declares no parent ref for %q and no foreign key override",
						d.Entity, link.Name, child.Entity, d.Entity)
				}
			}
			if fk == "" {
				fk = d.Entity + "_id"
			}
			if err := validIdent(fk); err != nil {
				return nil, fmt.Errorf("cascade link %s.%s: %w", d.Entity, link.Name, err)
			}

			resolved.links = append(resolved.links, resolvedLink{
				name:        link.Name,
				table:       link.Table,
				foreignKey:  fk,
				childEntity: childEntity,
			})
		}

		for _, junction := range d.JunctionTables {
			if err := validIdent(junction.Table); err != nil {
				return nil, fmt.Errorf("cascade junction on %s: %w", d.Entity, err)
			}
			if err := validIdent(junction.Column); err != nil {
				return nil, fmt.Errorf("cascade junction %s.%s: %w", d.Entity, junction.Table, err)
			}
			resolved.junctions = append(resolved.junctions, junction)
		}

		r.descriptors[d.Entity] = resolved
	}
	return r, nil
}

// Lookup returns whether an entity type has a cascade descriptor.
func (r *Registry) Lookup(entity string) bool {
	_, ok := r.descriptors[entity]
	return ok
}

func (r *Registry) descriptor(entity string) (*resolvedDescriptor, error) {
	d, ok := r.descriptors[entity]
	if !ok {
		return nil, fmt.Errorf("no cascade descriptor for entity %q", entity)
	}
	return d, nil
}

func parentColumn(child Descriptor, parentEntity string) string {
	for _, ref := range child.Parents {
		if ref.Entity == parentEntity {
			return ref.Column
		}
	}
	return ""
}

func validIdent(name string) error {
	if name == "" {
		return fmt.Errorf("empty identifier")
	}
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}
