package inspect

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/hooks"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func components(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}

// WriteArchetypes renders archetype rows as a table.
func WriteArchetypes(w io.Writer, rows []ArchetypeRow) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ARCHETYPE\tCOMPONENTS\tCOUNT\tENTITIES")
	for _, row := range rows {
		fmt.Fprintf(tw, "0x%X\t%s\t%d\t%d\n", row.ID, components(row.Components), len(row.Components), row.EntityCount)
	}
	return tw.Flush()
}

// WriteEntities renders entity rows as a table.
func WriteEntities(w io.Writer, rows []EntityRow) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ENTITY\tARCHETYPE\tCOMPONENTS")
	for _, row := range rows {
		fmt.Fprintf(tw, "%d\t0x%X\t%s\n", row.ID, row.ArchetypeID, components(row.Components))
	}
	return tw.Flush()
}

// WriteEntity renders the components of one entity.
func WriteEntity(w io.Writer, id ecs.EntityId, fields []Field) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "entity %d\n", id)
	for _, f := range fields {
		fmt.Fprintf(tw, "  %s\t%s\n", f.Component, f.Value)
	}
	return tw.Flush()
}

// WriteSystems renders scheduler timings.
func WriteSystems(w io.Writer, stats *ecs.SchedulerStats) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "SYSTEM\tRUNS\tAVG\tMIN\tMAX\tLAST")
	for _, s := range stats.Systems {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			s.Name, s.ExecutionCount, s.AvgDuration, s.MinDuration, s.MaxDuration, s.LastDuration)
	}
	return tw.Flush()
}

// WriteObservers renders observer render counts and frame timings.
func WriteObservers(w io.Writer, stats hooks.RuntimeStats) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "frame %d, %d observers\n", stats.Frame, stats.ObserverCount)
	fmt.Fprintln(tw, "OBSERVER\tRENDERS\tFRAMES\tAVG FRAME\tLAST RENDER")
	for _, o := range stats.Observers {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
			o.Name, o.Renders, o.FrameRuns, o.AvgFrameDuration, o.LastRenderDuration)
	}
	return tw.Flush()
}
