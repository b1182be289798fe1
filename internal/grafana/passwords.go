package grafana

import (
	"context"
	"sort"
)

// PasswordTable maps datasource field name -> field value -> password. It is
// built from operator supplied database entries such as
// {database: sales, password: s3cret}.
type PasswordTable map[string]map[string]string

// NewPasswordTable indexes every non-password key of every entry.
func NewPasswordTable(entries []map[string]string) PasswordTable {
	t := make(PasswordTable)
	for _, entry := range entries {
		password, ok := entry["password"]
		if !ok {
			continue
		}
		for key, value := range entry {
			if key == "password" {
				continue
			}
			if t[key] == nil {
				t[key] = make(map[string]string)
			}
			t[key][value] = password
		}
	}
	return t
}

// Apply returns a copy of datasources where each datasource with a blank
// password gets the password of the first matching key, in key order.
// Datasources that already carry a password are never changed.
func (t PasswordTable) Apply(datasources []Datasource) []Datasource {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Datasource, len(datasources))
	copy(out, datasources)
	for i := range out {
		if out[i].Password != "" {
			continue
		}
		for _, key := range keys {
			value, ok := out[i].Field(key)
			if !ok {
				continue
			}
			if pw, ok := t[key][value]; ok {
				out[i].Password = pw
				break
			}
		}
	}
	return out
}

// Overrides maps a datasource name to field values that replace the
// datasource's own on upload.
type Overrides map[string]map[string]string

// NewOverrides indexes entries by their "name" key. Entries without a name
// are ignored.
func NewOverrides(entries []map[string]string) Overrides {
	o := make(Overrides)
	for _, entry := range entries {
		name := entry["name"]
		if name == "" {
			continue
		}
		fields := make(map[string]string, len(entry))
		for k, v := range entry {
			if k == "name" {
				continue
			}
			fields[k] = v
		}
		o[name] = fields
	}
	return o
}

// UnknownFields lists, as "name.field", the override keys that do not name a
// datasource field. They are skipped on upload.
func (o Overrides) UnknownFields() []string {
	var out []string
	for name, fields := range o {
		var scratch Datasource
		for k, v := range fields {
			if err := scratch.SetField(k, v); err != nil {
				out = append(out, name+"."+k)
			}
		}
	}
	sort.Strings(out)
	return out
}

// ResolveDatasource applies the overrides for ds, if any. Unknown field
// names are skipped; see UnknownFields.
func (o Overrides) ResolveDatasource(_ context.Context, ds *Datasource) error {
	fields, ok := o[ds.Name]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_ = ds.SetField(k, fields[k])
	}
	return nil
}

// Has reports whether o carries overrides for name.
func (o Overrides) Has(name string) bool {
	_, ok := o[name]
	return ok
}
