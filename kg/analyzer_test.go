package kg

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func columnByName(t *testing.T, profile FileProfile, name string) ColumnProfile {
	t.Helper()
	for _, c := range profile.Columns {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("column %q not found in %s", name, profile.Source)
	return ColumnProfile{}
}

func TestStructuralAnalyzer(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	analyzer := NewStructuralAnalyzer(&CSVReader{}, AnalyzerConfig{})

	t.Run("entity table with embedded foreign key", func(t *testing.T) {
		path := writeTestFile(t, dir, "products.csv",
			"product_id,product_name,price,supplier_id\n"+
				"p-1,Stockholm Chair,149.00,s-1\n"+
				"p-2,Uppsala Desk,299.00,s-1\n"+
				"p-3,Malmo Table,199.00,s-2\n")

		profile := analyzer.Analyze(ctx, path)
		require.Empty(t, profile.Err)

		assert.False(t, profile.IsAssociationTable)
		assert.Equal(t, "Product", profile.EntityLabel)
		assert.Equal(t, 3, profile.RowCount)
		assert.Equal(t, 4, profile.ColumnCount)

		// product_id is fully distinct but not named "id"/"*_key", so it
		// stays an attribute and surfaces through FirstUniqueColumn.
		productID := columnByName(t, profile, "product_id")
		assert.Equal(t, RoleAttribute, productID.Role)
		assert.InDelta(t, 1.0, productID.UniquenessRatio, 1e-9)

		first, ok := profile.FirstUniqueColumn()
		require.True(t, ok)
		assert.Equal(t, "product_id", first.Name)

		supplierID := columnByName(t, profile, "supplier_id")
		assert.Equal(t, RoleForeignKeyCandidate, supplierID.Role)
		assert.Equal(t, "Supplier", supplierID.ReferencedEntity)
	})

	t.Run("id column named id becomes primary key candidate", func(t *testing.T) {
		path := writeTestFile(t, dir, "employees.csv",
			"id,name,department\n1,Ada,eng\n2,Grace,eng\n")

		profile := analyzer.Analyze(ctx, path)
		pks := profile.PrimaryKeyCandidates()
		require.Len(t, pks, 1)
		assert.Equal(t, "id", pks[0].Name)
	})

	t.Run("association table by filename token", func(t *testing.T) {
		path := writeTestFile(t, dir, "assembly_to_part_mapping.csv",
			"assembly_id,part_id,quantity\n"+
				"a-1,x-1,4\n"+
				"a-1,x-2,2\n")

		profile := analyzer.Analyze(ctx, path)
		assert.True(t, profile.IsAssociationTable)
		assert.Empty(t, profile.EntityLabel)

		fks := profile.ForeignKeys()
		require.Len(t, fks, 2)
		assert.Equal(t, "Assembly", fks[0].ReferencedEntity)
		assert.Equal(t, "Part", fks[1].ReferencedEntity)
	})

	t.Run("association table by structure", func(t *testing.T) {
		// no association token in the name, but two repeated *_id columns in
		// a narrow table
		path := writeTestFile(t, dir, "product_suppliers.csv",
			"product_id,supplier_id\n"+
				"p-1,s-1\n"+
				"p-1,s-2\n"+
				"p-2,s-1\n")

		profile := analyzer.Analyze(ctx, path)
		assert.True(t, profile.IsAssociationTable)
	})

	t.Run("null counting and uniqueness ratio", func(t *testing.T) {
		path := writeTestFile(t, dir, "inventory.csv",
			"sku,location\n"+
				"k-1,aisle-1\n"+
				"k-2,\n"+
				"k-3,aisle-1\n")

		profile := analyzer.Analyze(ctx, path)
		location := columnByName(t, profile, "location")
		assert.Equal(t, 1, location.NullCount)
		assert.InDelta(t, 0.5, location.UniquenessRatio, 1e-9)
	})

	t.Run("nullable column is never the fallback key", func(t *testing.T) {
		// serial is distinct across its populated values but has a gap, so
		// it cannot serve as a node key even though its ratio reaches 1.0.
		path := writeTestFile(t, dir, "shipments.csv",
			"serial,shipment_code,carrier\n"+
				"n-1,sc-1,dhl\n"+
				",sc-2,dhl\n"+
				"n-3,sc-3,ups\n")

		profile := analyzer.Analyze(ctx, path)
		serial := columnByName(t, profile, "serial")
		assert.Equal(t, 1, serial.NullCount)
		assert.InDelta(t, 1.0, serial.UniquenessRatio, 1e-9)

		first, ok := profile.FirstUniqueColumn()
		require.True(t, ok)
		assert.Equal(t, "shipment_code", first.Name)
	})

	t.Run("unreadable file carries error marker", func(t *testing.T) {
		profile := analyzer.Analyze(ctx, filepath.Join(dir, "missing.csv"))
		assert.NotEmpty(t, profile.Err)
		assert.Empty(t, profile.Columns)
	})

	t.Run("analyze all keeps failed files in the batch", func(t *testing.T) {
		good := writeTestFile(t, dir, "suppliers.csv",
			"supplier_id,name\ns-1,Nordic Wood\n")
		profiles := analyzer.AnalyzeAll(ctx, []string{good, filepath.Join(dir, "absent.csv")})
		require.Len(t, profiles, 2)
		assert.Empty(t, profiles[0].Err)
		assert.NotEmpty(t, profiles[1].Err)
	})
}

func TestHelperDerivations(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"products", "Product"},
		{"assemblies", "Assembly"},
		{"product_suppliers", "ProductSupplier"},
		{"staff", "Staff"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, entityLabelFromName(tc.in), "entityLabelFromName(%q)", tc.in)
	}

	assert.Equal(t, "Supplier", referencedEntityFromColumn("supplier_id"))
	assert.Equal(t, "ParentAssembly", referencedEntityFromColumn("parent_assembly_id"))
	assert.Equal(t, "", referencedEntityFromColumn("_id"))
}
