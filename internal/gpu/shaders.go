package gpu

// Kernel names. Each names a WGSL source and, once compiled, a pipeline.
const (
	KernelAdd              = "add"
	KernelMul              = "mul"
	KernelDiv              = "div"
	KernelDivScalar        = "div_scalar"
	KernelDivScalarInPlace = "div_scalar_inplace"
	KernelMatMul           = "matmul"
	KernelSum              = "sum"
	KernelMean             = "mean"
	KernelSumAxis          = "sum_axis"
	KernelMeanAxis         = "mean_axis"
	KernelReduceTo         = "reduce_to"
	KernelFill             = "fill"
	KernelCopyStrided      = "copy_strided"
)

// Kernels lists every built-in kernel name.
var Kernels = []string{
	KernelAdd, KernelMul, KernelDiv, KernelDivScalar, KernelDivScalarInPlace,
	KernelMatMul, KernelSum, KernelMean, KernelSumAxis, KernelMeanAxis,
	KernelReduceTo, KernelFill, KernelCopyStrided,
}

// paramsHeader is prepended to every kernel. Each kernel declares its own
// params binding; the helpers below address operands through it.
const paramsHeader = `
struct Params {
    n: u32,
    rank: u32,
    mode: u32,
    axis: u32,
    off_a: u32,
    off_b: u32,
    extent: u32,
    scalar: f32,
    shape: array<vec4<u32>, 2>,
    stride_a: array<vec4<u32>, 2>,
    stride_b: array<vec4<u32>, 2>,
    aux: array<vec4<u32>, 2>,
}

fn shape_at(d: u32) -> u32 {
    return params.shape[d / 4u][d % 4u];
}

fn stride_a_at(d: u32) -> u32 {
    return params.stride_a[d / 4u][d % 4u];
}

fn stride_b_at(d: u32) -> u32 {
    return params.stride_b[d / 4u][d % 4u];
}

fn aux_at(d: u32) -> u32 {
    return params.aux[d / 4u][d % 4u];
}

// Row-major linear index to element address, recomputed per element.
fn addr_a(linear: u32) -> u32 {
    var rem = linear;
    var idx = params.off_a;
    var d = params.rank;
    loop {
        if (d == 0u) {
            break;
        }
        d = d - 1u;
        let e = shape_at(d);
        idx = idx + (rem % e) * stride_a_at(d);
        rem = rem / e;
    }
    return idx;
}

fn addr_b(linear: u32) -> u32 {
    var rem = linear;
    var idx = params.off_b;
    var d = params.rank;
    loop {
        if (d == 0u) {
            break;
        }
        d = d - 1u;
        let e = shape_at(d);
        idx = idx + (rem % e) * stride_b_at(d);
        rem = rem / e;
    }
    return idx;
}
`

const binaryPrologue = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let i = gid.x;
    if (i >= params.n) {
        return;
    }
    let x = a[addr_a(i)];
    let y = b[addr_b(i)];
`

const unaryPrologue = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;
@group(0) @binding(2) var<uniform> params: Params;
`

const inPlacePrologue = `
@group(0) @binding(0) var<storage, read_write> data: array<f32>;
@group(0) @binding(1) var<uniform> params: Params;
`

// addShader: result = a + b with broadcast strides.
const addShader = paramsHeader + binaryPrologue + `
    result[i] = x + y;
}
`

// mulShader: result = a * b with broadcast strides.
const mulShader = paramsHeader + binaryPrologue + `
    result[i] = x * y;
}
`

// divShader: result = a / b. mode 1 writes 0 where the divisor is 0.
const divShader = paramsHeader + binaryPrologue + `
    if (params.mode != 0u && y == 0.0) {
        result[i] = 0.0;
    } else {
        result[i] = x / y;
    }
}
`

// divScalarShader: result = a / scalar.
const divScalarShader = paramsHeader + unaryPrologue + `
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let i = gid.x;
    if (i >= params.n) {
        return;
    }
    if (params.mode != 0u && params.scalar == 0.0) {
        result[i] = 0.0;
    } else {
        result[i] = a[addr_a(i)] / params.scalar;
    }
}
`

// divScalarInPlaceShader divides a strided view in place.
const divScalarInPlaceShader = paramsHeader + inPlacePrologue + `
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let i = gid.x;
    if (i >= params.n) {
        return;
    }
    let idx = addr_a(i);
    if (params.mode != 0u && params.scalar == 0.0) {
        data[idx] = 0.0;
    } else {
        data[idx] = data[idx] / params.scalar;
    }
}
`

// fillShader writes scalar to every element of a strided view.
const fillShader = paramsHeader + inPlacePrologue + `
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let i = gid.x;
    if (i >= params.n) {
        return;
    }
    data[addr_a(i)] = params.scalar;
}
`

// copyStridedShader gathers a strided view into a dense buffer.
const copyStridedShader = paramsHeader + unaryPrologue + `
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let i = gid.x;
    if (i >= params.n) {
        return;
    }
    result[i] = a[addr_a(i)];
}
`

// matmulShader: [m,k] @ [k,n]. shape = (m, n), extent = k.
const matmulShader = paramsHeader + `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let i = gid.x;
    if (i >= params.n) {
        return;
    }
    let cols = shape_at(1u);
    let row = i / cols;
    let col = i % cols;
    var acc = 0.0;
    for (var p = 0u; p < params.extent; p = p + 1u) {
        let av = a[params.off_a + row * stride_a_at(0u) + p * stride_a_at(1u)];
        let bv = b[params.off_b + p * stride_b_at(0u) + col * stride_b_at(1u)];
        acc = acc + av * bv;
    }
    result[i] = acc;
}
`

// sumShader reduces every element in logical order on one invocation.
const sumShader = paramsHeader + unaryPrologue + `
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x != 0u) {
        return;
    }
    var acc = 0.0;
    for (var j = 0u; j < params.extent; j = j + 1u) {
        acc = acc + a[addr_a(j)];
    }
    result[0] = acc;
}
`

// meanShader is sumShader divided by the element count.
const meanShader = paramsHeader + unaryPrologue + `
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x != 0u) {
        return;
    }
    var acc = 0.0;
    for (var j = 0u; j < params.extent; j = j + 1u) {
        acc = acc + a[addr_a(j)];
    }
    result[0] = acc / f32(params.extent);
}
`

// axisBody computes the base address of output element i with the reduced
// axis skipped, then walks the axis. extent is the axis length.
const axisBody = `
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let i = gid.x;
    if (i >= params.n) {
        return;
    }
    var rem = i;
    var base = params.off_a;
    var d = params.rank;
    loop {
        if (d == 0u) {
            break;
        }
        d = d - 1u;
        if (d == params.axis) {
            continue;
        }
        let e = shape_at(d);
        base = base + (rem % e) * stride_a_at(d);
        rem = rem / e;
    }
    let step = stride_a_at(params.axis);
    var acc = 0.0;
    for (var j = 0u; j < params.extent; j = j + 1u) {
        acc = acc + a[base + j * step];
    }
`

const sumAxisShader = paramsHeader + unaryPrologue + axisBody + `
    result[i] = acc;
}
`

const meanAxisShader = paramsHeader + unaryPrologue + axisBody + `
    result[i] = acc / f32(params.extent);
}
`

// reduceToShader sums a gradient over the axes where the target shape
// (aux, left-padded with 1s) has extent 1 and the gradient does not.
const reduceToShader = paramsHeader + unaryPrologue + `
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let i = gid.x;
    if (i >= params.n) {
        return;
    }
    var total = 1u;
    for (var d = 0u; d < params.rank; d = d + 1u) {
        if (aux_at(d) == 1u && shape_at(d) > 1u) {
            total = total * shape_at(d);
        }
    }
    var acc = 0.0;
    for (var k = 0u; k < total; k = k + 1u) {
        var rem = k;
        var jr = i;
        var idx = params.off_a;
        var d = params.rank;
        loop {
            if (d == 0u) {
                break;
            }
            d = d - 1u;
            let te = aux_at(d);
            let ge = shape_at(d);
            var c = jr % te;
            jr = jr / te;
            if (te == 1u && ge > 1u) {
                c = rem % ge;
                rem = rem / ge;
            }
            idx = idx + c * stride_a_at(d);
        }
        acc = acc + a[idx];
    }
    result[i] = acc;
}
`

var builtinShaders = map[string]string{
	KernelAdd:              addShader,
	KernelMul:              mulShader,
	KernelDiv:              divShader,
	KernelDivScalar:        divScalarShader,
	KernelDivScalarInPlace: divScalarInPlaceShader,
	KernelMatMul:           matmulShader,
	KernelSum:              sumShader,
	KernelMean:             meanShader,
	KernelSumAxis:          sumAxisShader,
	KernelMeanAxis:         meanAxisShader,
	KernelReduceTo:         reduceToShader,
	KernelFill:             fillShader,
	KernelCopyStrided:      copyStridedShader,
}
