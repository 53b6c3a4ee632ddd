package task

import (
	"testing"

	"github.com/shoenig/test/must"
)

func TestNew(t *testing.T) {
	tk := New("foo")
	must.Eq(t, "foo", tk.Name)
	must.Eq(t, -1, tk.PID)
	must.NotNil(t, tk.Env)
	must.NotNil(t, tk.Filters)
}

func TestValidate(t *testing.T) {
	tk := New("foo")
	must.ErrorContains(t, tk.Validate(), "must have at least one")

	tk.Cmds = append(tk.Cmds, Command{"/bin/true"})
	must.NoError(t, tk.Validate())

	noName := New("")
	noName.Cmds = append(noName.Cmds, Command{"/bin/true"})
	must.ErrorContains(t, noName.Validate(), "name must not be empty")
}

func TestDependency_Equal(t *testing.T) {
	a := Dependency{Name: "foo", Event: EventWait}
	b := Dependency{Name: "foo", Event: EventWait}
	c := Dependency{Name: "foo", Event: EventSpawn}
	must.True(t, a.Equal(b))
	must.False(t, a.Equal(c))
}

func TestAddRemoveDep_Idempotent(t *testing.T) {
	tk := New("foo")
	d := Dependency{Name: "bar", Event: EventWait}
	tk.AddDep(d)
	tk.AddDep(d)
	must.Eq(t, 1, len(tk.Deps))

	must.True(t, tk.RemoveDep(d))
	must.Eq(t, 0, len(tk.Deps))
	must.False(t, tk.RemoveDep(d))
}

func TestCopy_IsDeep(t *testing.T) {
	tk := New("foo")
	tk.Cmds = append(tk.Cmds, Command{"/bin/echo", "hi"})
	tk.Env.Set("A", "1")
	tk.Deps = append(tk.Deps, Dependency{Name: "x", Event: EventWait})
	tk.CgroupParams = map[string]string{"cpu.weight": "100"}

	cp := tk.Copy()
	cp.Cmds[0][1] = "bye"
	cp.Env.Set("A", "2")
	cp.Deps[0].Name = "y"
	cp.CgroupParams["cpu.weight"] = "200"

	must.Eq(t, "hi", tk.Cmds[0][1])
	v, _ := tk.Env.Get("A")
	must.Eq(t, "1", v)
	must.Eq(t, "x", tk.Deps[0].Name)
	must.Eq(t, "100", tk.CgroupParams["cpu.weight"])
}

func TestMergeInclude(t *testing.T) {
	tk := New("foo")
	inc := New("foo")
	inc.Deps = append(inc.Deps, Dependency{Name: "bar", Event: EventWait})
	inc.Env.Set("X", "1")
	inc.IORedirects = append(inc.IORedirects, IORedirect{From: RedirStdout, To: "/dev/null"})

	tk.MergeInclude(inc)

	must.Eq(t, 1, len(tk.Deps))
	v, ok := tk.Env.Get("X")
	must.True(t, ok)
	must.Eq(t, "1", v)
	must.Eq(t, 1, len(tk.IORedirects))
}

func TestLifecycle_String(t *testing.T) {
	must.Eq(t, "LOADED", Loaded.String())
	must.Eq(t, "RUNNING", Running.String())
	must.Eq(t, "DONE", Done.String())
	must.Eq(t, "FAILED", Failed.String())
}
